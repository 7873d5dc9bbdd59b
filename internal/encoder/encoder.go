// Package encoder defines the black-box video-encoder boundary named in
// spec §6 ("Encoder: open(path, fps, size, bitrate), write(frame),
// close(). H.264 in mp4 container; yuv420p") and a pass-through
// implementation usable in tests and as a development default.
package encoder

import (
	"fmt"
	"os"
)

// Params describes how to open an encoder session.
type Params struct {
	Path      string
	FPS       int
	Width     int
	Height    int
	BitRateBps int // spec default: 500 kbps
}

// Encoder is the black-box video encoder interface.
type Encoder interface {
	Write(jpeg []byte) error
	Close() error
}

// Opener opens a new Encoder session for the given params.
type Opener interface {
	Open(p Params) (Encoder, error)
}

// RawOpener is a minimal Opener that concatenates each written JPEG frame
// into a flat file on disk. It does not produce a real H.264/mp4
// container — that requires a native codec library out of scope for this
// module (spec §1 "Deliberately out of scope ... the concrete video
// encoder") — but it preserves the open/write/close contract and lets the
// recorder stage, retention sweep, and file serving be exercised and
// tested end to end without a native dependency.
type RawOpener struct{}

type rawEncoder struct {
	f *os.File
}

func (RawOpener) Open(p Params) (Encoder, error) {
	f, err := os.Create(p.Path)
	if err != nil {
		return nil, fmt.Errorf("encoder: open %s: %w", p.Path, err)
	}
	return &rawEncoder{f: f}, nil
}

func (e *rawEncoder) Write(jpeg []byte) error {
	_, err := e.f.Write(jpeg)
	return err
}

func (e *rawEncoder) Close() error {
	return e.f.Close()
}

var _ Opener = RawOpener{}
