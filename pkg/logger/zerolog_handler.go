package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zerologHandler adapts a zerolog.Logger to the slog.Handler
// interface, so FormatZerolog can route through zerolog's writer
// machinery while the rest of this package only ever talks to slog.
type zerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

func newZerologHandler(zl zerolog.Logger) *zerologHandler {
	return &zerologHandler{logger: zl}
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= toZerologLevel(level)
}

func (h *zerologHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(toZerologLevel(r.Level))
	for _, a := range h.attrs {
		evt = addZerologAttr(evt, h.groupPrefix(), a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = addZerologAttr(evt, h.groupPrefix(), a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

func (h *zerologHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	prefix := h.groups[0]
	for _, g := range h.groups[1:] {
		prefix += "." + g
	}
	return prefix
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func addZerologAttr(evt *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return evt.Str(key, a.Value.String())
	case slog.KindInt64:
		return evt.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return evt.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return evt.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return evt.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return evt.Time(key, a.Value.Time())
	default:
		return evt.Interface(key, a.Value.Any())
	}
}

func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
