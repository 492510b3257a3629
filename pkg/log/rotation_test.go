package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("log file missing content: %q", data)
	}
}

func TestRotatingWriterRequiresFilename(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Fatal("expected error for empty filename")
	}
}

func TestRotationAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	// Force the size state past the 1 MB limit, then write once more.
	w.mu.Lock()
	w.currentSize = w.maxSize
	w.mu.Unlock()

	if _, err := w.Write([]byte("after rotation\n")); err != nil {
		t.Fatalf("Write after limit: %v", err)
	}

	if w.CurrentSize() >= 1024*1024 {
		t.Errorf("size not reset after rotation: %d", w.CurrentSize())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, e := range entries {
		if e.Name() != "host.log" && strings.HasPrefix(e.Name(), "host.") {
			rotated++
		}
	}
	if rotated != 1 {
		t.Errorf("expected 1 rotated file, found %d", rotated)
	}
}

func TestIsRotatedFile(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"host.20260115-093000.log", true},
		{"host.20260115-093000.log.gz", true},
		{"host.log", false},
		{"host.notadate.log", false},
		{"other.20260115-093000.log", false},
	}
	for _, c := range cases {
		if got := isRotatedFile(c.name, "host", ".log"); got != c.want {
			t.Errorf("isRotatedFile(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.log")

	logger, writer, err := NewFileLogger("test", RotationConfig{Filename: path})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer writer.Close()

	logger.Info("to file")
	writer.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte("to file")) {
		t.Errorf("file logger did not write: %q", data)
	}
	if bytes.Contains(data, []byte("\x1b[")) {
		t.Errorf("file output contains ANSI escapes: %q", data)
	}
}
