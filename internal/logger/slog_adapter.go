package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// A nil logger forwards to the global logger at the time of each record.
func NewSlogHandler(l *Logger) slog.Handler {
	return &slogHandler{log: l}
}

// Slog is shorthand for slog.New(NewSlogHandler(l)).
func Slog(l *Logger) *slog.Logger {
	return slog.New(NewSlogHandler(l))
}

type slogHandler struct {
	log    *Logger
	groups []string
	attrs  []slog.Attr
}

func (h *slogHandler) target() *Logger {
	if h.log != nil {
		return h.log
	}
	return Global()
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	current := h.target().GetLevel()
	return current != LevelNone && fromSlogLevel(level) >= current
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	for _, attr := range h.attrs {
		writeAttr(&b, attr, nil)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, attr, h.groups)
		return true
	})

	message := record.Message
	if text := b.String(); text != "" {
		if message != "" {
			message += " " + text
		} else {
			message = text
		}
	}

	h.target().log(fromSlogLevel(record.Level), "%s", message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		// Attributes bind to the groups open at the time they are added.
		for i := len(h.groups) - 1; i >= 0; i-- {
			attr = slog.Attr{Key: h.groups[i], Value: slog.GroupValue(attr)}
		}
		merged = append(merged, attr)
	}
	return &slogHandler{log: h.log, groups: h.groups, attrs: merged}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &slogHandler{log: h.log, groups: groups, attrs: h.attrs}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func writeAttr(b *strings.Builder, attr slog.Attr, prefix []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		nested := prefix
		if attr.Key != "" {
			nested = append(append([]string(nil), prefix...), attr.Key)
		}
		for _, a := range attr.Value.Group() {
			writeAttr(b, a, nested)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".") + "." + key
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	fmt.Fprintf(b, "%s=%v", key, attr.Value)
}
