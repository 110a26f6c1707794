// Package thread owns the comment thread panel. At most one thread is open
// at a time. Mutations are applied to the in-memory annotation immediately
// and persisted on a per-annotation lane. A failed or timed-out save drops
// that mutation only; the ones queued behind it are replayed and still saved.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/idgen"
	"github.com/hazyhaar/pagemark/kit"
)

var (
	ErrCancelled   = errors.New("thread: cancelled")
	ErrNoChange    = errors.New("thread: no change")
	ErrLastComment = errors.New("thread: cannot delete the last comment")
	ErrTimeout     = errors.New("thread: persistence timed out")
	ErrNoComment   = errors.New("thread: unknown comment")
)

// DefaultTimeout bounds one persistence call.
const DefaultTimeout = 5 * time.Second

// Store persists thread mutations.
type Store interface {
	Update(ctx context.Context, a annotation.Annotation) error
	Delete(ctx context.Context, a annotation.Annotation) error
}

// Renderer reflects status changes and removals on the overlay layer.
type Renderer interface {
	PositionOverlay(a annotation.Annotation) bool
	RemoveOverlay(id string) bool
}

// Surface paints the panel. dom.Page satisfies it.
type Surface interface {
	PaintPanel(markup string) error
	PaintComments(markup string) error
}

// Config configures a Controller.
type Config struct {
	Set      *annotation.Set
	Store    Store
	Renderer Renderer
	Surface  Surface
	Confirm  Confirmer
	// Author returns the author snapshot for a new comment.
	Author  func(ctx context.Context) annotation.Author
	IDs     idgen.Generator
	Now     func() time.Time
	Timeout time.Duration
	// OnDeleted runs after an annotation deletion is persisted.
	OnDeleted func(a annotation.Annotation)
	Logger    *slog.Logger
}

// Controller is the single owner of the open thread.
type Controller struct {
	cfg   Config
	lanes *lanes

	mu        sync.Mutex
	current   string
	composing bool
	failures  map[string]string

	pmu  sync.Mutex
	pend map[string]*pending
}

// New creates a Controller with no thread open.
func New(cfg Config) *Controller {
	if cfg.Confirm == nil {
		cfg.Confirm = ConfirmFromContext
	}
	if cfg.Author == nil {
		cfg.Author = AuthorFromContext
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.Default
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		lanes:    newLanes(),
		failures: make(map[string]string),
		pend:     make(map[string]*pending),
	}
}

// AuthorFromContext builds the author from the authenticated user on ctx.
func AuthorFromContext(ctx context.Context) annotation.Author {
	a := annotation.Author{ID: kit.GetUserID(ctx), Name: kit.GetHandle(ctx)}
	if a.ID == "" {
		a.ID = "anonymous"
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	return a
}

// Open shows the thread of id, closing any other open thread first.
func (c *Controller) Open(id string) error {
	a, ok := c.cfg.Set.Get(id)
	if !ok {
		return fmt.Errorf("thread: open %s: %w", id, annotation.ErrUnknown)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != "" || c.composing {
		c.paintPanel("")
		c.current, c.composing = "", false
	}
	delete(c.failures, id)
	markup, err := PanelMarkup(a, "")
	if err != nil {
		return fmt.Errorf("thread: open %s: %w", id, err)
	}
	c.current = id
	c.paintPanel(markup)
	return nil
}

// Compose replaces any open thread with the new-annotation form. A non-empty
// failure is shown above the form, which keeps the previous selection.
func (c *Controller) Compose(kind annotation.Kind, failure string) error {
	markup, err := ComposeMarkup(kind, failure)
	if err != nil {
		return fmt.Errorf("thread: compose: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current, c.composing = "", true
	c.paintPanel(markup)
	return nil
}

// Composing reports whether the new-annotation form is shown.
func (c *Controller) Composing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composing
}

// Close removes the panel. It is safe when nothing is open.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" && !c.composing {
		return
	}
	c.current, c.composing = "", false
	c.paintPanel("")
}

// Current returns the id of the open thread, or "".
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Wait blocks until every pending save has settled.
func (c *Controller) Wait() { c.lanes.wait() }

// Reply appends a comment to annotation id.
func (c *Controller) Reply(ctx context.Context, id, text string) (<-chan error, error) {
	text, err := annotation.CheckText(text)
	if err != nil {
		return nil, err
	}
	cm := annotation.Comment{
		ID:        c.cfg.IDs(),
		Text:      text,
		Author:    c.cfg.Author(ctx),
		Timestamp: c.cfg.Now().UnixMilli(),
	}
	m, err := c.mutate(id, func(a *annotation.Annotation) error {
		if a.CommentIndex(cm.ID) < 0 {
			a.Comments = append(a.Comments, cm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("thread: reply %s: %w", id, err)
	}
	c.refreshComments(id)
	return c.enqueueUpdate(ctx, id, "reply", m, nil), nil
}

// EditComment replaces the text of one comment. Empty or unchanged text
// returns ErrNoChange and nothing is persisted.
func (c *Controller) EditComment(ctx context.Context, id, commentID, text string) (<-chan error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoChange
	}
	text, err := annotation.CheckText(text)
	if err != nil {
		return nil, err
	}
	at := c.cfg.Now().UnixMilli()
	m, err := c.mutate(id, func(a *annotation.Annotation) error {
		i := a.CommentIndex(commentID)
		if i < 0 {
			return ErrNoComment
		}
		if a.Comments[i].Text == text {
			return ErrNoChange
		}
		a.Comments[i].Text = text
		a.Comments[i].Edited = true
		a.Comments[i].EditedAt = &at
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return nil, ErrNoChange
	}
	if err != nil {
		return nil, fmt.Errorf("thread: edit %s/%s: %w", id, commentID, err)
	}
	c.refreshComments(id)
	return c.enqueueUpdate(ctx, id, "edit", m, nil), nil
}

// DeleteComment removes one comment after confirmation. The last comment
// of a thread cannot be removed; delete the annotation instead.
func (c *Controller) DeleteComment(ctx context.Context, id, commentID string) (<-chan error, error) {
	if !c.cfg.Confirm(ctx, "Delete this comment?") {
		return nil, ErrCancelled
	}
	m, err := c.mutate(id, func(a *annotation.Annotation) error {
		i := a.CommentIndex(commentID)
		if i < 0 {
			return ErrNoComment
		}
		if len(a.Comments) == 1 {
			return ErrLastComment
		}
		a.Comments = append(a.Comments[:i], a.Comments[i+1:]...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("thread: delete comment %s/%s: %w", id, commentID, err)
	}
	c.refreshComments(id)
	return c.enqueueUpdate(ctx, id, "delete comment", m, c.reflect), nil
}

// ToggleResolved flips a resolved thread back to open and anything else to
// resolved, after confirmation.
func (c *Controller) ToggleResolved(ctx context.Context, id string) (<-chan error, error) {
	a, ok := c.cfg.Set.Get(id)
	if !ok {
		return nil, fmt.Errorf("thread: toggle %s: %w", id, annotation.ErrUnknown)
	}
	prompt := "Mark as resolved?"
	if a.Status == annotation.StatusResolved {
		prompt = "Reopen this annotation?"
	}
	if !c.cfg.Confirm(ctx, prompt) {
		return nil, ErrCancelled
	}
	var target annotation.Status
	m, err := c.mutate(id, func(a *annotation.Annotation) error {
		if target == "" {
			target = annotation.StatusResolved
			if a.Status == annotation.StatusResolved {
				target = annotation.StatusOpen
			}
		}
		a.Status = target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("thread: toggle %s: %w", id, err)
	}
	c.refreshPanel(id)
	return c.enqueueUpdate(ctx, id, "toggle", m, c.reflect), nil
}

// DeleteAnnotation removes the annotation after confirmation. Nothing is
// removed locally until the store confirms.
func (c *Controller) DeleteAnnotation(ctx context.Context, id string) (<-chan error, error) {
	if _, ok := c.cfg.Set.Get(id); !ok {
		return nil, fmt.Errorf("thread: delete %s: %w", id, annotation.ErrUnknown)
	}
	if !c.cfg.Confirm(ctx, "Delete this annotation and its thread?") {
		return nil, ErrCancelled
	}
	done := make(chan error, 1)
	c.lanes.push(id, func() {
		snap, ok := c.cfg.Set.Get(id)
		var err error
		if !ok {
			err = annotation.ErrUnknown
		} else {
			err = c.persist(ctx, func(ctx context.Context) error { return c.cfg.Store.Delete(ctx, snap) })
		}
		if err != nil {
			c.fail(id, "delete", err)
			done <- err
			return
		}
		c.cfg.Set.Delete(id)
		c.cfg.Renderer.RemoveOverlay(id)
		c.mu.Lock()
		delete(c.failures, id)
		if c.current == id {
			c.current = ""
			c.paintPanel("")
		}
		c.mu.Unlock()
		if c.cfg.OnDeleted != nil {
			c.cfg.OnDeleted(snap)
		}
		done <- nil
	})
	return done, nil
}

// enqueueUpdate persists the state of id as it stands when the job runs,
// which already carries every mutation queued so far.
func (c *Controller) enqueueUpdate(ctx context.Context, id, op string, m *mutation, after func(string)) <-chan error {
	done := make(chan error, 1)
	c.lanes.push(id, func() {
		snap, ok := c.cfg.Set.Get(id)
		var err error
		if !ok {
			err = annotation.ErrUnknown
		} else {
			err = c.persist(ctx, func(ctx context.Context) error { return c.cfg.Store.Update(ctx, snap) })
		}
		if err != nil {
			c.settle(id, m, nil)
			c.fail(id, op, err)
			if op == "toggle" {
				c.refreshPanel(id)
			}
			done <- err
			return
		}
		c.settle(id, m, &snap)
		c.mu.Lock()
		cleared := c.failures[id] != ""
		delete(c.failures, id)
		c.mu.Unlock()
		if cleared {
			c.refreshComments(id)
		}
		if after != nil {
			after(id)
		}
		done <- nil
	})
	return done
}

// persist runs fn under the timeout. A store that ignores its context still
// counts as failed once the timeout expires.
func (c *Controller) persist(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()
	res := make(chan error, 1)
	go func() { res <- fn(ctx) }()
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	}
}

func (c *Controller) fail(id, op string, err error) {
	c.cfg.Logger.Warn("thread: persist failed", "id", id, "op", op, "error", err)
	c.mu.Lock()
	c.failures[id] = "Could not save (" + op + "). Please try again."
	c.mu.Unlock()
	c.refreshComments(id)
}

func (c *Controller) reflect(id string) {
	if a, ok := c.cfg.Set.Get(id); ok {
		c.cfg.Renderer.PositionOverlay(a)
	}
}

func (c *Controller) refreshComments(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != id {
		return
	}
	a, ok := c.cfg.Set.Get(id)
	if !ok {
		return
	}
	markup, err := CommentsMarkup(a, c.failures[id])
	if err != nil {
		c.cfg.Logger.Error("thread: render comments", "id", id, "error", err)
		return
	}
	if err := c.cfg.Surface.PaintComments(markup); err != nil {
		c.cfg.Logger.Warn("thread: paint comments failed", "id", id, "error", err)
	}
}

func (c *Controller) refreshPanel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != id {
		return
	}
	a, ok := c.cfg.Set.Get(id)
	if !ok {
		return
	}
	markup, err := PanelMarkup(a, c.failures[id])
	if err != nil {
		c.cfg.Logger.Error("thread: render panel", "id", id, "error", err)
		return
	}
	c.paintPanel(markup)
}

// paintPanel must be called with c.mu held.
func (c *Controller) paintPanel(markup string) {
	if err := c.cfg.Surface.PaintPanel(markup); err != nil {
		c.cfg.Logger.Warn("thread: paint panel failed", "error", err)
	}
}
