// Package logger builds the process logger: colored console output through
// tint, plus an optional JSON log file rotated by lumberjack.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	level     slog.Level
	console   io.Writer
	noColor   bool
	logToFile bool
	logFile   string
}

// Option configures New.
type Option func(*options)

// WithLevel sets the minimum level for every output.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithWriter replaces stderr as the console output.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithNoColor disables ANSI colors on the console.
func WithNoColor(noColor bool) Option {
	return func(o *options) { o.noColor = noColor }
}

// WithLogToFile enables the rotated log file.
func WithLogToFile(enabled bool) Option {
	return func(o *options) { o.logToFile = enabled }
}

// WithLogFile sets the log file path and enables file output.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
		o.logToFile = path != ""
	}
}

// New returns a logger writing to the console and, if enabled, to a log
// file. The returned io.Closer releases the file and is never nil.
func New(opts ...Option) (*slog.Logger, io.Closer) {
	o := options{
		level:   slog.LevelInfo,
		console: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	handlers := []slog.Handler{
		tint.NewHandler(o.console, &tint.Options{
			Level:      o.level,
			TimeFormat: time.TimeOnly,
			NoColor:    o.noColor,
		}),
	}

	var closer io.Closer = nopCloser{}
	if o.logToFile && o.logFile != "" {
		file := &lumberjack.Logger{
			Filename:   o.logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: o.level}))
		closer = file
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer
	}
	return slog.New(fanout(handlers)), closer
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
