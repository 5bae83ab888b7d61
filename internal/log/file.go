package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/gosimple/slug"
	slogmulti "github.com/samber/slog-multi"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// SetupFileLogging tees the context logger into <directory>/<name>.log.
// Without a directory the context is returned unchanged. The returned
// function closes the file.
func SetupFileLogging(ctx context.Context, directory, format, name string) (context.Context, func()) {
	if directory == "" {
		return ctx, func() {}
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		clog.WarnContext(ctx, "failed to create log directory", "path", directory, "error", err.Error())
		return ctx, func() {}
	}

	logPath := filepath.Join(directory, fmt.Sprintf("%s.log", slug.Make(name)))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		clog.WarnContext(ctx, "failed to create log file", "path", logPath, "error", err.Error())
		return ctx, func() {}
	}

	handler := slogmulti.Fanout(clog.FromContext(ctx).Handler(), fileHandler(logFile, format))

	clog.InfoContext(ctx, "logging to file", "path", logPath)
	ctx = clog.WithLogger(ctx, clog.New(handler))

	return ctx, func() {
		if err := logFile.Close(); err != nil {
			clog.WarnContext(ctx, "failed to close log file", "path", logPath, "error", err.Error())
		}
	}
}

func fileHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
