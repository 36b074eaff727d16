package tui

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// LogsHandler writes log records to the logs pane, using the level of the process logger. It is
// disabled once the application stops, as writes to a stopped application block.
type LogsHandler struct {
	slog.Handler
	levelHandler slog.Handler
	disabled     *atomic.Bool
}

// NewLogsHandler creates a LogsHandler that formats records with handler, and filters them by
// levelHandler.
func NewLogsHandler(handler, levelHandler slog.Handler) *LogsHandler {
	return &LogsHandler{
		Handler:      handler,
		levelHandler: levelHandler,
		disabled:     &atomic.Bool{},
	}
}

func (h *LogsHandler) Disable() {
	h.disabled.Store(true)
}

func (h *LogsHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.disabled.Load() {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

func (h *LogsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.disabled.Load() {
		return false
	}
	return h.levelHandler.Enabled(ctx, level)
}

func (h *LogsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogsHandler{
		Handler:      h.Handler.WithAttrs(attrs),
		levelHandler: h.levelHandler.WithAttrs(attrs),
		disabled:     h.disabled,
	}
}

func (h *LogsHandler) WithGroup(name string) slog.Handler {
	return &LogsHandler{
		Handler:      h.Handler.WithGroup(name),
		levelHandler: h.levelHandler.WithGroup(name),
		disabled:     h.disabled,
	}
}
