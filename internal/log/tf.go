package log

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// TFHandler forwards records to the provider's tflog subsystem. Groups
// become dotted key prefixes.
type TFHandler struct {
	attrs  []slog.Attr
	groups []string
}

const subsystem = "cloud9ssm"

func NewTFHandler() slog.Handler {
	return &TFHandler{}
}

// Enabled implements slog.Handler.
func (h *TFHandler) Enabled(_ context.Context, _ slog.Level) bool {
	// tflog filters by TF_LOG_PROVIDER_CLOUD9SSM itself and has no API to
	// query the level.
	return true
}

// Handle implements slog.Handler.
func (h *TFHandler) Handle(ctx context.Context, record slog.Record) error {
	ctx = tflog.NewSubsystem(ctx, subsystem, tflog.WithAdditionalLocationOffset(3))

	fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		addField(fields, "", attr)
	}

	// record attrs win over handler attrs
	prefix := h.prefix()
	record.Attrs(func(a slog.Attr) bool {
		addField(fields, prefix, a)
		return true
	})

	switch {
	case record.Level < slog.LevelInfo:
		tflog.SubsystemDebug(ctx, subsystem, record.Message, fields)
	case record.Level < slog.LevelWarn:
		tflog.SubsystemInfo(ctx, subsystem, record.Message, fields)
	case record.Level < slog.LevelError:
		tflog.SubsystemWarn(ctx, subsystem, record.Message, fields)
	default:
		tflog.SubsystemError(ctx, subsystem, record.Message, fields)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *TFHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(attrs))
	prefix := h.prefix()
	for _, a := range attrs {
		prefixed = append(prefixed, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &TFHandler{
		attrs:  append(slices.Clip(h.attrs), prefixed...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *TFHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TFHandler{
		attrs:  h.attrs,
		groups: append(slices.Clip(h.groups), name),
	}
}

func (h *TFHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

func addField(fields map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		if a.Key != "" {
			fields[prefix+a.Key] = v.Any()
		}
		return
	}
	// an inline group has no key of its own
	if a.Key != "" {
		prefix += a.Key + "."
	}
	for _, ga := range v.Group() {
		addField(fields, prefix, ga)
	}
}
