package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yujun2647/watchdogd/internal/encoder"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
)

func TestSanitizeTagReplacesHyphens(t *testing.T) {
	if got := sanitizeTag("car-blocking-alert"); got != "car_blocking_alert" {
		t.Fatalf("sanitizeTag() = %q, want %q", got, "car_blocking_alert")
	}
	if got := sanitizeTag(""); got != "rec" {
		t.Fatalf("sanitizeTag(\"\") = %q, want \"rec\"", got)
	}
}

func TestBuildFilenameAndTimestampPrefixRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 5, 13, 4, 5, 250_000_000, time.UTC)
	name := buildFilename("car-left", at)
	want := "2026-03-05-13-04-05-250-car_left.mp4"
	if name != want {
		t.Fatalf("buildFilename() = %q, want %q", name, want)
	}
	if prefix := timestampPrefix(name); prefix != "2026-03-05-13-04-05-250" {
		t.Fatalf("timestampPrefix() = %q, want %q", prefix, "2026-03-05-13-04-05-250")
	}
}

func TestTimestampPrefixMalformedName(t *testing.T) {
	if got := timestampPrefix("noextension"); got != "" {
		t.Fatalf("timestampPrefix(%q) = %q, want \"\"", "noextension", got)
	}
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func newTestStage(t *testing.T) *Stage {
	t.Helper()
	in := queue.NewBounded[*frame.Envelope](4)
	return NewStage(in, Config{CachePath: t.TempDir(), ActiveFPS: 10, RestFPS: 1}, nil, nil, encoder.RawOpener{})
}

func TestHandleStartOpensFreshFileWhenNoneActive(t *testing.T) {
	s := newTestStage(t)
	s.handleStart(Request{ID: "a", Tag: "person", RecSecs: 10, CreatedAt: time.Now()}, noopLogger{})

	if s.active == nil {
		t.Fatal("handleStart() did not open an active recording")
	}
	if _, err := os.Stat(s.active.path); err != nil {
		t.Fatalf("active recording file not created: %v", err)
	}
}

func TestHandleStartDuplicateRequestIgnored(t *testing.T) {
	s := newTestStage(t)
	req := Request{ID: "same-id", Tag: "person", RecSecs: 10, CreatedAt: time.Now()}
	s.handleStart(req, noopLogger{})
	first := s.active

	s.handleStart(req, noopLogger{}) // duplicate ID, same tick
	if s.active != first {
		t.Fatal("handleStart() replaced the active recording on a duplicate request")
	}
}

func TestHandleStartExtendsDeadlineInsteadOfOpeningSecondFile(t *testing.T) {
	s := newTestStage(t)
	s.handleStart(Request{ID: "a", Tag: "person", RecSecs: 5, CreatedAt: time.Now()}, noopLogger{})
	firstPath := s.active.path

	s.handleStart(Request{ID: "b", Tag: "person", RecSecs: 20, CreatedAt: time.Now()}, noopLogger{})
	if s.active.path != firstPath {
		t.Fatal("handleStart() opened a second file instead of extending the active one")
	}
	if s.active.recSecs < 20 {
		t.Fatalf("recSecs = %d after extension, want >= 20", s.active.recSecs)
	}
}

func TestSweepRetentionRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2000-01-01-00-00-00-000-old.mp4")
	fresh := filepath.Join(dir, buildFilename("fresh", time.Now()))
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Stage{cfg: Config{CachePath: dir, CacheDays: 30}}
	s.sweepRetentionLocked(noopLogger{})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("sweepRetentionLocked() did not remove the old recording")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("sweepRetentionLocked() incorrectly removed a fresh recording")
	}
}

func TestListRecordsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := "2026-01-01-00-00-00-000-a.mp4"
	newer := "2026-06-01-00-00-00-000-b.mp4"
	for _, name := range []string{older, newer} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := &Stage{cfg: Config{CachePath: dir}}
	names, err := s.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(names) != 2 || names[0] != newer {
		t.Fatalf("ListRecords() = %v, want newest (%q) first", names, newer)
	}
}
