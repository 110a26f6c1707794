package engine

import (
	"context"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/render"
)

// Status summarises the engine state for hosts and tools.
type Status struct {
	URL         string            `json:"url"`
	Active      bool              `json:"active"`
	Visibility  render.Visibility `json:"visibility"`
	Annotations int               `json:"annotations"`
	Thread      string            `json:"thread,omitempty"`
}

// Status returns the current state.
func (e *Engine) Status() Status {
	return Status{
		URL:         e.URL(),
		Active:      e.selection.Active(),
		Visibility:  e.renderer.Visibility(),
		Annotations: e.set.Len(),
		Thread:      e.threads.Current(),
	}
}

// AnnotationView is an annotation with its display state.
type AnnotationView struct {
	annotation.Annotation
	Anchor string `json:"anchor,omitempty"`
	Shown  bool   `json:"shown"`
}

// Views returns every page annotation with its display state.
func (e *Engine) Views() []AnnotationView {
	list := e.set.List()
	out := make([]AnnotationView, 0, len(list))
	for _, a := range list {
		v := AnnotationView{Annotation: a, Shown: e.renderer.Shown(a.ID)}
		if a.Locator != nil {
			v.Anchor = a.Locator.String()
		}
		out = append(out, v)
	}
	return out
}

// await blocks until a thread mutation has been persisted or rolled back.
func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
