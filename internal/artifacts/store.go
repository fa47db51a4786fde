// Package artifacts manages worker-generated report files on local disk.
//
// A report is created by the worker, streamed to exactly one caller and then
// removed. Nothing here holds a lock over the reports directory; each path is
// assumed to belong to a single run.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"vitiligo-backend/internal/shared/metrics"
	"vitiligo-backend/internal/shared/telemetry"
)

var (
	ErrArtifactMissing = errors.New("artifact missing")
	ErrOutsideRoot     = fmt.Errorf("%w: path outside reports dir", ErrArtifactMissing)
	ErrDelivery        = errors.New("artifact delivery failed")
	ErrNoRoot          = errors.New("reports dir not configured")
)

// DeliveryError reports a failure while streaming an artifact to its sink.
type DeliveryError struct {
	Path    string
	Written int64
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s after %d bytes: %v", e.Path, e.Written, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Sink is the outbound channel an artifact is streamed into. Begin is called
// once, before the first Write, with the suggested download name and size.
type Sink interface {
	io.Writer
	Begin(downloadName string, size int64)
}

// Archiver keeps a copy of a delivered report somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, name string, r io.Reader) error
}

// Store delivers and removes report files.
type Store struct {
	// Root confines which paths may be read and deleted. Empty disables the check.
	Root string
	// Archive, when set, receives a copy of every successfully delivered report.
	Archive Archiver
}

// New constructs a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// Exists reports whether path names a regular file. It never fails.
func (s *Store) Exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

const firstChunkSize = 32 << 10

// DeliverAndDelete streams the file at path into sink and then deletes it,
// whether or not streaming succeeded. A missing file yields ErrArtifactMissing
// and nothing is deleted. Delete failures are logged, never returned.
func (s *Store) DeliverAndDelete(ctx context.Context, path, downloadName string, sink Sink) error {
	clean, err := s.confine(path)
	if err != nil {
		if errors.Is(err, ErrOutsideRoot) {
			telemetry.Error("artifacts.outside_root", map[string]any{"path": path, "root": s.Root})
		}
		return err
	}

	f, err := os.Open(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrArtifactMissing
		}
		s.remove(clean)
		return &DeliveryError{Path: clean, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		s.remove(clean)
		return &DeliveryError{Path: clean, Err: err}
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return ErrArtifactMissing
	}

	// Nothing reaches the sink until the first chunk is in hand, so a read
	// failure can still be answered with an error instead of a short body.
	src := &ctxReader{ctx: ctx, r: f}
	first := make([]byte, firstChunkSize)
	n, readErr := io.ReadFull(src, first)
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		_ = f.Close()
		s.remove(clean)
		return &DeliveryError{Path: clean, Err: readErr}
	}

	sink.Begin(downloadName, info.Size())
	var written int64
	wn, copyErr := sink.Write(first[:n])
	written += int64(wn)
	if copyErr == nil && wn != n {
		copyErr = io.ErrShortWrite
	}
	if copyErr == nil && readErr == nil {
		var rest int64
		rest, copyErr = io.Copy(sink, src)
		written += rest
	}
	_ = f.Close()

	if copyErr == nil && s.Archive != nil {
		s.archive(ctx, clean, downloadName)
	}
	s.remove(clean)

	if copyErr != nil {
		return &DeliveryError{Path: clean, Written: written, Err: copyErr}
	}
	return nil
}

func (s *Store) confine(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrArtifactMissing
	}
	clean := filepath.Clean(path)
	if s.Root == "" {
		return clean, nil
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", fmt.Errorf("resolve reports dir: %w", err)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", ErrOutsideRoot
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

func (s *Store) archive(ctx context.Context, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		telemetry.Error("artifacts.archive_failed", map[string]any{"path": path, "error": err})
		return
	}
	defer f.Close()
	if err := s.Archive.Archive(ctx, name, f); err != nil {
		telemetry.Error("artifacts.archive_failed", map[string]any{"path": path, "error": err})
		return
	}
	metrics.IncReportArchived()
	telemetry.Info("artifacts.archived", map[string]any{"path": path, "name": name})
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.IncArtifactDeleteFailed()
		telemetry.Error("artifacts.delete_failed", map[string]any{"path": path, "error": err})
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
