package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/o11y"
)

func Info(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelInfo, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelWarn, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelError, msg, args...)
}

func With(ctx context.Context, args ...any) context.Context {
	logger := clog.FromContext(ctx).With(args...)
	return clog.WithLogger(ctx, logger)
}

// WithConstruct attaches the construct and run ids to the context logger.
// An empty constructID is left out.
func WithConstruct(ctx context.Context, constructID, runID string) context.Context {
	if constructID == "" {
		return With(ctx, o11y.AttrRunID, runID)
	}
	return With(ctx, o11y.AttrConstructID, constructID, o11y.AttrRunID, runID)
}

// WithResource attaches the logical id of the resource being realized.
func WithResource(ctx context.Context, id string) context.Context {
	return With(ctx, o11y.AttrResource, id)
}

func log(ctx context.Context, level slog.Level, msg string, args ...any) {
	l := clog.FromContext(ctx)
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	// skip [runtime.Callers, log, the level helper]
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.Handler().Handle(ctx, r)
}
