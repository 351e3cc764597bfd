package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// printer renders command results either as indented JSON (machine mode)
// or as human-readable text. Handlers write their human form with human,
// which prints nothing in JSON mode, and then call printData, which prints
// the result as indented JSON in both modes; in human mode the output is
// the handler's text followed by that JSON.
type printer struct {
	json bool
	out  io.Writer
}

func (p *printer) printData(v any) error {
	if p.json {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, string(raw))
	return err
}

// human prints a line in human mode only; in JSON mode it is a no-op,
// since a machine-mode caller should parse printData's JSON instead.
func (p *printer) human(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}
