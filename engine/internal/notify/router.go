package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Router delivers each event to every sink, in order. A failing sink is
// logged and skipped; Send joins the failures.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter fans out to sinks. A nil logger means slog.Default.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range r.sinks {
		err := s.Send(ctx, ev)
		if err == nil {
			continue
		}
		r.logger.Warn("notify: delivery failed", "event", ev.ID, "type", ev.Type, "annotation_id", ev.AnnotationID, "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (r *Router) Close() error {
	errs := make([]error, 0, len(r.sinks))
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
