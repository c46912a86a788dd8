package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. File is optional; when set, records are written to
// stdout and to a size-rotated file.
type Options struct {
	Env        string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu      sync.Mutex
	rotator *lumberjack.Logger
)

// New returns a JSON logger. Debug level is enabled for local and dev.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Env == "local" || opts.Env == "dev" {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 50
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 5
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		mu.Lock()
		rotator = lj
		mu.Unlock()
		w = io.MultiWriter(os.Stdout, lj)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

type callKey struct{}

// ForCall returns ctx with its logger tagged with call_id and room. A context
// already tagged for callID comes back unchanged, so nested call scopes log
// each key once.
func ForCall(ctx context.Context, callID, room string) context.Context {
	if id, ok := ctx.Value(callKey{}).(string); ok && id == callID {
		return ctx
	}
	ctx = With(ctx, From(ctx).With("call_id", callID, "room", room))
	return context.WithValue(ctx, callKey{}, callID)
}

// ShutdownFlush closes the rotating file, if any.
func ShutdownFlush(_ context.Context, _ time.Duration) error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}
