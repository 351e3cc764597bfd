package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir, "http://localhost:8080")
	ctx := context.Background()

	if err := s.Put(ctx, "projects/p1/roles/r1.xml", bytes.NewReader([]byte("<role/>"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.Get(ctx, "projects/p1/roles/r1.xml")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "<role/>" {
		t.Errorf("content = %q, want <role/>", data)
	}

	if err := s.Delete(ctx, "projects/p1/roles/r1.xml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "projects/p1/roles/r1.xml"); err != ErrKeyNotFound {
		t.Fatalf("Get after delete err = %v, want ErrKeyNotFound", err)
	}
}

func TestLocalStorageDeleteMissingIsNoop(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	if err := s.Delete(context.Background(), "does/not/exist.xml"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestLocalStorageURL(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "http://localhost:8080/")
	got := s.URL("projects/p1/roles/r1.xml")
	want := "http://localhost:8080/blobs/projects/p1/roles/r1.xml"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestCommitThenDeleteRemovesOldKey(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	ctx := context.Background()

	if err := s.Put(ctx, "v1.xml", bytes.NewReader([]byte("old"))); err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	if err := CommitThenDelete(ctx, s, "v2.xml", bytes.NewReader([]byte("new")), "v1.xml"); err != nil {
		t.Fatalf("CommitThenDelete: %v", err)
	}

	if _, err := s.Get(ctx, "v1.xml"); err != ErrKeyNotFound {
		t.Fatalf("old key Get err = %v, want ErrKeyNotFound", err)
	}
	rc, err := s.Get(ctx, "v2.xml")
	if err != nil {
		t.Fatalf("new key Get: %v", err)
	}
	rc.Close()
}
