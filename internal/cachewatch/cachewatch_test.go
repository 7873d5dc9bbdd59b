package cachewatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReportsCreateEvent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	out := make(chan Event, 4)
	done := make(chan struct{})
	defer close(done)

	if err := Watch(dir, out, done); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-out:
		if ev.Name != path {
			t.Fatalf("Event.Name = %q, want %q", ev.Name, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not report the file creation")
	}
}

func TestWatchCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")
	out := make(chan Event, 1)
	done := make(chan struct{})
	defer close(done)

	if err := Watch(dir, out, done); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Watch() did not create %q: %v", dir, err)
	}
}
