// Package events dispatches server events to handlers registered at startup.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/loykin/swabra/internal/build"
)

// BuildFinishedHandler reacts to a finished build.
type BuildFinishedHandler func(ctx context.Context, run build.Run) error

type namedHandler struct {
	name string
	fn   BuildFinishedHandler
}

// Bus delivers events to handlers sequentially, in registration order.
// A failing handler is logged and does not stop the ones after it.
type Bus struct {
	mu       sync.RWMutex
	finished []namedHandler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// OnBuildFinished registers fn under name.
func (b *Bus) OnBuildFinished(name string, fn BuildFinishedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = append(b.finished, namedHandler{name: name, fn: fn})
}

// PublishBuildFinished runs every build-finished handler and returns the
// joined handler errors.
func (b *Bus) PublishBuildFinished(ctx context.Context, run build.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	handlers := make([]namedHandler, len(b.finished))
	copy(handlers, b.finished)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.fn(ctx, run); err != nil {
			b.logger.Error("build finished handler failed", "handler", h.name, "build", run.ID, "build_type", run.BuildTypeID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
