// Package wdlog provides the process-wide structured logger.
//
// Every stage logs through this package so that the stage name shows up
// as a consistent field (and callers add others such as frame_id as
// key/value pairs) instead of ad-hoc formatted strings.
package wdlog

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var base *slog.Logger

func init() {
	base = slog.New(slog.NewTextHandler(writer(), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// writer picks a colorable writer when stderr is an interactive terminal,
// otherwise plain stderr (container/log-collector friendly).
func writer() io.Writer {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

// SetLevel adjusts the minimum logged level at runtime (e.g. -debug flag).
func SetLevel(level slog.Level) {
	base = slog.New(slog.NewTextHandler(writer(), &slog.HandlerOptions{
		Level: level,
	}))
}

// Stage returns a logger scoped to one pipeline stage, carrying its name
// as a constant field on every record.
func Stage(name string) *slog.Logger {
	return base.With(slog.String("stage", name))
}

// Default returns the process-wide base logger.
func Default() *slog.Logger {
	return base
}
