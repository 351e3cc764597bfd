package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrinterPrintDataJSONMode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := &printer{json: true, out: &buf}

	if err := p.printData(map[string]string{"name": "alice"}); err != nil {
		t.Fatalf("printData: %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "alice"`) {
		t.Errorf("output = %q, want indented JSON containing name:alice", buf.String())
	}
}

func TestPrinterHumanNoOpInJSONMode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := &printer{json: true, out: &buf}

	p.human("created project %s", "my-project")
	if buf.Len() != 0 {
		t.Errorf("expected no output in json mode, got %q", buf.String())
	}
}

func TestPrinterHumanPrintsInHumanMode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := &printer{json: false, out: &buf}

	p.human("created project %s", "my-project")
	if got := buf.String(); got != "created project my-project\n" {
		t.Errorf("output = %q", got)
	}
}
