package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// FileSource reads a fixed native fps and loops over a directory of
// pre-extracted JPEG frames, used for the "file path" address kind (spec
// §4.1) and for deterministic end-to-end tests (spec §8 scenarios use a
// "test file with a walking pedestrian").
type FileSource struct {
	dir   string
	files []string
	idx   int

	nativeFPS int
}

// NewFileSource creates a FileSource over a directory of .jpg/.jpeg
// frames, assuming nativeFPS (defaulting to 10) as the source's native
// capture rate.
func NewFileSource(nativeFPS int) *FileSource {
	if nativeFPS <= 0 {
		nativeFPS = 10
	}
	return &FileSource{nativeFPS: nativeFPS}
}

func (f *FileSource) Open(ctx context.Context, addr string) (nativeFPS, width, height int, err error) {
	info, err := os.Stat(addr)
	if err != nil {
		return 0, 0, 0, err
	}

	if info.IsDir() {
		f.dir = addr
	} else {
		f.dir = filepath.Dir(addr)
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, 0, 0, err
	}
	f.files = f.files[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".jpg" || ext == ".jpeg" {
			f.files = append(f.files, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(f.files)
	if len(f.files) == 0 {
		return 0, 0, 0, fmt.Errorf("camera: no frames found under %s", f.dir)
	}

	w, h := 0, 0
	if data, err := os.ReadFile(f.files[0]); err == nil {
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
			w, h = cfg.Width, cfg.Height
		}
	}

	return f.nativeFPS, w, h, nil
}

func (f *FileSource) ReadFrame(ctx context.Context) ([]byte, error) {
	if len(f.files) == 0 {
		return nil, io.EOF
	}
	path := f.files[f.idx]
	f.idx = (f.idx + 1) % len(f.files)
	return os.ReadFile(path)
}

func (f *FileSource) Close() error { return nil }

var _ Source = (*FileSource)(nil)
