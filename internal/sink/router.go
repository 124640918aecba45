package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/dominject/event"
)

// Router fans events out to every sink. A failing sink does not stop the
// others; failures are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendScan(ctx context.Context, s event.Scan) error {
	return r.each("scan", func(k Sink) error { return k.SendScan(ctx, s) })
}

func (r *Router) SendAction(ctx context.Context, a event.Action) error {
	return r.each("action", func(k Sink) error { return k.SendAction(ctx, a) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(kind string, send func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: send failed", "event", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
