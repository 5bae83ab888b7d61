package log

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainguard-dev/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupFileLogging(t *testing.T) {
	t.Run("no directory", func(t *testing.T) {
		ctx := t.Context()
		got, done := SetupFileLogging(ctx, "", FormatText, "env")
		defer done()
		assert.Equal(t, ctx, got)
	})

	t.Run("json", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "logs")
		ctx := clog.WithLogger(t.Context(), clog.New(slog.DiscardHandler))

		ctx, done := SetupFileLogging(ctx, dir, FormatJSON, "My Env")
		ctx = With(ctx, "resource", "Network")
		Info(ctx, "created VPC", "id", "vpc-1")
		clog.FromContext(ctx).Debug("detail")
		done()

		raw, err := os.ReadFile(filepath.Join(dir, "my-env.log"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		require.Len(t, lines, 2)

		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
		assert.Equal(t, "created VPC", rec["msg"])
		assert.Equal(t, "Network", rec["resource"])
		assert.Equal(t, "vpc-1", rec["id"])
	})

	t.Run("text", func(t *testing.T) {
		dir := t.TempDir()
		ctx := clog.WithLogger(t.Context(), clog.New(slog.DiscardHandler))

		ctx, done := SetupFileLogging(ctx, dir, "", "env")
		Warn(ctx, "skipping teardown")
		done()

		raw, err := os.ReadFile(filepath.Join(dir, "env.log"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `msg="skipping teardown"`)
		assert.Contains(t, string(raw), "level=WARN")
	})
}

func TestTFHandlerWithAttrs(t *testing.T) {
	base := &TFHandler{}
	a := base.WithAttrs([]slog.Attr{slog.String("a", "1")}).(*TFHandler)
	b := a.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*TFHandler)
	c := a.WithAttrs([]slog.Attr{slog.String("c", "3")}).(*TFHandler)

	assert.Len(t, a.attrs, 1)
	assert.Equal(t, "b", b.attrs[1].Key)
	assert.Equal(t, "c", c.attrs[1].Key)
}

func TestWithConstruct(t *testing.T) {
	var buf strings.Builder
	base := clog.WithLogger(t.Context(), clog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := WithResource(WithConstruct(base, "my-env", "run-1"), "Document")
	Error(ctx, "boom")

	ctx = WithConstruct(base, "", "run-2")
	Info(ctx, "destroying")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "my-env", first["construct_id"])
	assert.Equal(t, "run-1", first["run_id"])
	assert.Equal(t, "Document", first["resource"])
	assert.Equal(t, "ERROR", first["level"])

	assert.NotContains(t, second, "construct_id")
	assert.Equal(t, "run-2", second["run_id"])
}

func TestTFHandlerGroups(t *testing.T) {
	h := (&TFHandler{}).WithGroup("aws").WithAttrs([]slog.Attr{slog.String("region", "us-west-2")}).(*TFHandler)
	require.Equal(t, "aws.region", h.attrs[0].Key)
	require.Equal(t, "aws.", h.prefix())
	require.Same(t, h, h.WithGroup(""))

	fields := map[string]any{}
	addField(fields, h.prefix(), slog.Group("vpc", slog.String("id", "vpc-1"), slog.Int("subnets", 1)))
	addField(fields, "", slog.Group("", slog.String("inline", "yes")))
	addField(fields, "", slog.String("", "dropped"))

	assert.Equal(t, map[string]any{
		"aws.vpc.id":      "vpc-1",
		"aws.vpc.subnets": int64(1),
		"inline":          "yes",
	}, fields)
}
