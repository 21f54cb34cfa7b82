// Package observability holds the logging, request ID and tracing plumbing
// shared by the server and the cachectl tool.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerConfig contains configuration for the logger.
type LoggerConfig struct {
	Level     string
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Redact    bool
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	if cfg.Redact {
		handler = &redactingHandler{next: handler, redactor: NewRedactor()}
	}
	return slog.New(handler)
}

// LoggerWithRequestID returns logger tagged with the request ID from ctx, if any.
func LoggerWithRequestID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return logger
	}
	return logger.With("request_id", id)
}

// redactingHandler masks string attributes and the message before they are written.
type redactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redactor.Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if SensitiveKey(a.Key) {
			return slog.String(a.Key, "[REDACTED]")
		}
		return slog.String(a.Key, h.redactor.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, len(group))
		for i, ga := range group {
			redacted[i] = h.redactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.redactor.Redact(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
