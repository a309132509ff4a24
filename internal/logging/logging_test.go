package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	f, err := New(Options{Console: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer f.Close()

	f.Logger("proxy").Printf("Activated cache version %s", "v1")
	if !strings.Contains(buf.String(), "[proxy] ") || !strings.Contains(buf.String(), "Activated cache version v1") {
		t.Errorf("output = %q", buf.String())
	}
	if err := f.Rotate(); err != nil {
		t.Errorf("Rotate() without file = %v", err)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "exposure.log")
	var buf bytes.Buffer
	f, err := New(Options{File: path, MaxSizeMB: 1, Console: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	f.Logger("hub").Println("Page 1 connected")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "[hub] ") {
		t.Errorf("file = %q", data)
	}
	if !strings.Contains(buf.String(), "Page 1 connected") {
		t.Errorf("console = %q", buf.String())
	}
}

func TestFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exposure.log")
	f, err := New(Options{File: path, Console: io.Discard})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.Logger("sync").Println("Saved goals")
	_ = f.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Saved goals") {
		t.Errorf("file = %q", data)
	}
}
