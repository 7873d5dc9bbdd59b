package encoder

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRawOpenerWritesConcatenatedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	enc, err := RawOpener{}.Open(Params{Path: path, FPS: 10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := enc.Write([]byte("frame1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Write([]byte("frame2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "frame1frame2" {
		t.Fatalf("file contents = %q, want %q", data, "frame1frame2")
	}
}

func TestRawOpenerOpenFailsOnBadPath(t *testing.T) {
	if _, err := (RawOpener{}).Open(Params{Path: filepath.Join(t.TempDir(), "missing-dir", "out.mp4")}); err == nil {
		t.Fatal("Open() with a nonexistent parent directory returned nil error")
	}
}
