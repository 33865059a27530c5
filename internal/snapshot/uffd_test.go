package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapFileReadSlice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem")
	contents := []byte("0123456789abcdef")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	m, err := MapFile(path, len(contents))
	if err != nil {
		t.Fatalf("unexpected error mapping file: %v", err)
	}
	defer m.Close()

	got, err := m.ReadSlice(4, 6)
	if err != nil {
		t.Fatalf("unexpected error reading slice: %v", err)
	}
	if string(got) != "456789" {
		t.Fatalf("expected \"456789\", got %q", got)
	}
}

func TestMapFileReadSliceOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem")
	contents := []byte("short")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	m, err := MapFile(path, len(contents))
	if err != nil {
		t.Fatalf("unexpected error mapping file: %v", err)
	}
	defer m.Close()

	if _, err := m.ReadSlice(0, 100); err == nil {
		t.Fatalf("expected an out-of-bounds read to fail")
	}
}
