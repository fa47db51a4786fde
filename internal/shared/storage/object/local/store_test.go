package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPutThenOpen(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	n, err := s.Put(ctx, "reports/2026-01-02/abc_report.docx", "application/octet-stream", strings.NewReader("docx"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 4 {
		t.Fatalf("wrote %d bytes", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "2026-01-02", "abc_report.docx")); err != nil {
		t.Fatalf("stat: %v", err)
	}

	rc, err := s.Open(ctx, "reports/2026-01-02/abc_report.docx")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "docx" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestPutRejectsEscapingKeys(t *testing.T) {
	s := New(t.TempDir())
	for _, key := range []string{"../escape.docx", "/abs/path.docx", "."} {
		if _, err := s.Put(context.Background(), key, "", strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestPutHonorsCanceledContext(t *testing.T) {
	s := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "a.docx", "", strings.NewReader("x")); err == nil {
		t.Fatalf("expected context error")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestPutLeavesNothingOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if _, err := s.Put(context.Background(), "r/a.docx", "", failingReader{}); err == nil {
		t.Fatalf("expected error")
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "r"))
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}
