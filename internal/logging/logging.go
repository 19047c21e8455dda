// Package logging provides the structured Logger interface shared by every
// core package, backed by zerolog.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured-logging contract the core depends on.
// Any field map may contain arbitrary JSON-serializable values.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// zlog adapts zerolog.Logger to Logger.
type zlog struct {
	l zerolog.Logger
}

// New constructs a zerolog-backed Logger writing JSON lines to stdout.
func New(level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return zlog{l: l}
}

func (z zlog) Info(msg string, fields map[string]any)  { z.emit(z.l.Info(), msg, fields) }
func (z zlog) Error(msg string, fields map[string]any) { z.emit(z.l.Error(), msg, fields) }
func (z zlog) Debug(msg string, fields map[string]any) { z.emit(z.l.Debug(), msg, fields) }

func (zlog) emit(ev *zerolog.Event, msg string, fields map[string]any) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Noop discards every log line; useful for tests that don't assert on logs.
type Noop struct{}

func (Noop) Info(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
func (Noop) Debug(string, map[string]any) {}
