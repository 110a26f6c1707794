package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagemark/engine/internal/browser"
	"github.com/hazyhaar/pagemark/engine/internal/relayout"
	"github.com/hazyhaar/pagemark/engine/internal/thread"
)

// Review is an interactive session: one browser tab with an Engine bound
// to it.
type Review struct {
	*Engine

	ctx    context.Context
	mgr    *browser.Manager
	page   *browser.LivePage
	logger *slog.Logger
}

// OpenReview launches the configured browser, opens pageURL, loads its
// annotations and turns selection on. ctx bounds the whole session.
func OpenReview(ctx context.Context, cfg *Config, st Store, pageURL string, opts ...Option) (*Review, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.defaults()

	mgr := browser.NewManager(c.Browser)
	if _, err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("engine: review: %w", err)
	}
	page, err := browser.Open(ctx, mgr, pageURL, browser.Options{})
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("engine: review: %w", err)
	}

	confirm := func(ctx context.Context, prompt string) bool {
		return thread.Confirmed(ctx) || page.Confirm(ctx, prompt)
	}
	eng, err := New(&c, page, st, append([]Option{WithConfirmer(confirm)}, opts...)...)
	if err != nil {
		page.Close()
		mgr.Close()
		return nil, err
	}

	r := &Review{Engine: eng, ctx: ctx, mgr: mgr, page: page, logger: eng.logger}
	page.SetHandlers(browser.Handlers{
		OnLayout:   r.onLayout,
		OnOverlay:  r.onOverlay,
		OnAction:   r.onAction,
		OnNavigate: r.onNavigate,
	})
	if err := eng.Load(ctx, page.URL()); err != nil {
		r.logger.Warn("engine: review: annotations unavailable", "url", page.URL(), "error", err)
	}
	if err := eng.Activate(); err != nil {
		r.Close()
		return nil, err
	}
	r.logger.Info("engine: review started", "url", page.URL())
	return r, nil
}

func (r *Review) onLayout(reason string) {
	r.Signal(relayout.Reason(reason))
}

func (r *Review) onOverlay(id string) {
	if !r.renderer.Click(id) {
		r.logger.Debug("engine: review: click on hidden marker", "id", id)
	}
}

func (r *Review) onNavigate(url string) {
	if err := r.Load(r.ctx, url); err != nil {
		r.logger.Warn("engine: review: reload failed", "url", url, "error", err)
	}
}

func (r *Review) onAction(a browser.Action) {
	err := r.panelAction(r.ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, thread.ErrCancelled), errors.Is(err, thread.ErrNoChange):
		r.logger.Debug("engine: review: action skipped", "action", a.Name, "error", err)
	default:
		r.logger.Warn("engine: review: action failed", "action", a.Name, "thread", a.Thread, "error", err)
	}
}

// panelAction runs one panel button or form. Persistence outcomes surface in
// the panel, so only the synchronous refusals are returned.
func (e *Engine) panelAction(ctx context.Context, a browser.Action) error {
	var err error
	switch a.Name {
	case "close":
		e.CloseThread()
	case "cancel":
		e.CancelSelection()
	case "create":
		_, err = e.CreateAnnotation(ctx, a.Text)
	case "reply":
		_, err = e.Reply(ctx, a.Thread, a.Text)
	case "edit":
		_, err = e.EditComment(ctx, a.Thread, a.Comment, a.Text)
	case "toggle":
		_, err = e.ToggleResolved(ctx, a.Thread)
	case "delete":
		_, err = e.DeleteAnnotation(ctx, a.Thread)
	case "delete-comment":
		_, err = e.DeleteComment(ctx, a.Thread, a.Comment)
	default:
		err = fmt.Errorf("engine: unknown panel action %q", a.Name)
	}
	return err
}

// Close ends the session: the engine first, then the tab and the browser.
func (r *Review) Close() error {
	err := r.Engine.Close()
	if perr := r.page.Close(); perr != nil && err == nil {
		err = perr
	}
	if merr := r.mgr.Close(); merr != nil && err == nil {
		err = merr
	}
	return err
}
