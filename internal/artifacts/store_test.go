package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vitiligo-backend/internal/shared/telemetry"
)

type recordingSink struct {
	buf    bytes.Buffer
	name   string
	size   int64
	begins int
	failAt int
}

func (s *recordingSink) Begin(name string, size int64) {
	s.begins++
	s.name = name
	s.size = size
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.failAt > 0 && s.buf.Len()+len(p) > s.failAt {
		return 0, errors.New("client went away")
	}
	return s.buf.Write(p)
}

type memArchive struct {
	names []string
	data  [][]byte
	err   error
}

func (a *memArchive) Archive(ctx context.Context, name string, r io.Reader) error {
	if a.err != nil {
		return a.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.names = append(a.names, name)
	a.data = append(a.data, data)
	return nil
}

func writeReport(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	return path
}

func TestDeliverAndDeleteStreamsThenRemoves(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r1.docx", "X")
	store := New(dir)
	sink := &recordingSink{}

	if err := store.DeliverAndDelete(context.Background(), path, "Jane_vitiligo_report.docx", sink); err != nil {
		t.Fatalf("DeliverAndDelete: %v", err)
	}
	if sink.buf.String() != "X" {
		t.Fatalf("sink got %q, want X", sink.buf.String())
	}
	if sink.begins != 1 || sink.name != "Jane_vitiligo_report.docx" || sink.size != 1 {
		t.Fatalf("unexpected Begin: begins=%d name=%q size=%d", sink.begins, sink.name, sink.size)
	}
	if store.Exists(path) {
		t.Fatalf("artifact still on disk")
	}
}

func TestDeliverAndDeleteSecondCallReportsMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r1.docx", "X")
	store := New(dir)

	if err := store.DeliverAndDelete(context.Background(), path, "a.docx", &recordingSink{}); err != nil {
		t.Fatalf("first DeliverAndDelete: %v", err)
	}
	sink := &recordingSink{}
	err := store.DeliverAndDelete(context.Background(), path, "a.docx", sink)
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrArtifactMissing, got %v", err)
	}
	if sink.begins != 0 || sink.buf.Len() != 0 {
		t.Fatalf("missing artifact must not touch the sink")
	}
}

func TestDeliverAndDeleteRemovesOnDeliveryFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "big.docx", strings.Repeat("x", 256<<10))
	archive := &memArchive{}
	store := &Store{Root: dir, Archive: archive}
	sink := &recordingSink{failAt: 1024}

	err := store.DeliverAndDelete(context.Background(), path, "big.docx", sink)
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	var delErr *DeliveryError
	if !errors.As(err, &delErr) || delErr.Path != path {
		t.Fatalf("expected DeliveryError for %s, got %#v", path, err)
	}
	if sink.begins != 1 || sink.buf.Len() != 0 {
		t.Fatalf("expected headers sent and no body, got begins=%d len=%d", sink.begins, sink.buf.Len())
	}
	if store.Exists(path) {
		t.Fatalf("artifact left on disk after failed delivery")
	}
	if len(archive.names) != 0 {
		t.Fatalf("failed deliveries must not be archived")
	}
}

func TestDeliverAndDeleteFailsMidStream(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "big.docx", strings.Repeat("x", 256<<10))
	store := New(dir)
	sink := &recordingSink{failAt: 100 << 10}

	err := store.DeliverAndDelete(context.Background(), path, "big.docx", sink)
	var delErr *DeliveryError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if delErr.Written != int64(sink.buf.Len()) || delErr.Written == 0 || delErr.Written >= 256<<10 {
		t.Fatalf("written = %d, sink holds %d", delErr.Written, sink.buf.Len())
	}
	if store.Exists(path) {
		t.Fatalf("artifact left on disk after failed delivery")
	}
}

func TestDeliverAndDeleteCanceledBeforeFirstByte(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r.docx", "report-bytes")
	archive := &memArchive{}
	store := &Store{Root: dir, Archive: archive}
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.DeliverAndDelete(ctx, path, "r.docx", sink)
	if !errors.Is(err, ErrDelivery) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrDelivery wrapping context.Canceled, got %v", err)
	}
	if sink.begins != 0 || sink.buf.Len() != 0 {
		t.Fatalf("sink must stay untouched, got begins=%d len=%d", sink.begins, sink.buf.Len())
	}
	if store.Exists(path) {
		t.Fatalf("artifact left on disk after canceled delivery")
	}
	if len(archive.names) != 0 {
		t.Fatalf("canceled deliveries must not be archived")
	}
}

func TestDeliverAndDeleteEmptyReport(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "empty.docx", "")
	store := New(dir)
	sink := &recordingSink{}

	if err := store.DeliverAndDelete(context.Background(), path, "empty.docx", sink); err != nil {
		t.Fatalf("DeliverAndDelete: %v", err)
	}
	if sink.begins != 1 || sink.size != 0 || sink.buf.Len() != 0 {
		t.Fatalf("unexpected sink state: begins=%d size=%d len=%d", sink.begins, sink.size, sink.buf.Len())
	}
}

func TestDeliverAndDeleteArchivesDeliveredReport(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r2.docx", "report-bytes")
	archive := &memArchive{}
	store := &Store{Root: dir, Archive: archive}

	if err := store.DeliverAndDelete(context.Background(), path, "Jane_vitiligo_report.docx", &recordingSink{}); err != nil {
		t.Fatalf("DeliverAndDelete: %v", err)
	}
	if len(archive.names) != 1 || archive.names[0] != "Jane_vitiligo_report.docx" || string(archive.data[0]) != "report-bytes" {
		t.Fatalf("unexpected archive contents: %v", archive.names)
	}
	if store.Exists(path) {
		t.Fatalf("artifact still on disk")
	}
}

func TestDeliverAndDeleteArchiveFailureDoesNotFailDelivery(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r3.docx", "X")
	store := &Store{Root: dir, Archive: &memArchive{err: errors.New("bucket unavailable")}}

	if err := store.DeliverAndDelete(context.Background(), path, "r3.docx", &recordingSink{}); err != nil {
		t.Fatalf("archive failure leaked into result: %v", err)
	}
	if store.Exists(path) {
		t.Fatalf("artifact still on disk")
	}
}

func TestDeliverAndDeleteRefusesPathsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	path := writeReport(t, other, "elsewhere.docx", "X")
	store := New(root)

	var logs bytes.Buffer
	restore := telemetry.SetOutput(&logs)
	defer restore()

	err := store.DeliverAndDelete(context.Background(), path, "x.docx", &recordingSink{})
	if !errors.Is(err, ErrOutsideRoot) || !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if !strings.Contains(logs.String(), `"msg":"artifacts.outside_root"`) || !strings.Contains(logs.String(), `"level":"error"`) {
		t.Fatalf("expected outside-root error log, got %q", logs.String())
	}
	if !store.Exists(path) {
		t.Fatalf("file outside root must not be deleted")
	}

	traversal := filepath.Join(root, "..", filepath.Base(other), "elsewhere.docx")
	if err := store.DeliverAndDelete(context.Background(), traversal, "x.docx", &recordingSink{}); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for traversal, got %v", err)
	}
}

func TestDeliverAndDeleteDirectoryIsMissing(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store := New(root)
	if err := store.DeliverAndDelete(context.Background(), sub, "x", &recordingSink{}); !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrArtifactMissing, got %v", err)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatalf("directory must not be removed: %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "r.docx", "X")
	store := New(dir)

	if !store.Exists(path) {
		t.Fatalf("expected file to exist")
	}
	if store.Exists(filepath.Join(dir, "nope.docx")) {
		t.Fatalf("unexpected existence")
	}
	if store.Exists("") || store.Exists(dir) {
		t.Fatalf("empty path and directories are not artifacts")
	}
}

func TestSweepOrphansRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	stale := writeReport(t, dir, "stale.docx", "old")
	fresh := writeReport(t, dir, "fresh.docx", "new")
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	store := New(dir)

	removed, err := store.SweepOrphans(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if store.Exists(stale) || !store.Exists(fresh) {
		t.Fatalf("sweep removed the wrong files")
	}
}

func TestSweepOrphansMissingRoot(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "not-created"))
	removed, err := store.SweepOrphans(context.Background(), time.Minute)
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op sweep, got removed=%d err=%v", removed, err)
	}
	if _, err := (&Store{}).SweepOrphans(context.Background(), time.Minute); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
}

func TestJanitorSweepsUntilCanceled(t *testing.T) {
	dir := t.TempDir()
	stale := writeReport(t, dir, "stale.docx", "old")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Janitor{Store: New(dir), MaxAge: time.Minute, Interval: 10 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for j.Store.Exists(stale) {
		select {
		case <-deadline:
			t.Fatalf("janitor never swept stale report")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}
