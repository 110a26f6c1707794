// Package engine anchors review annotations to a host page and keeps their
// markers, threads and notifications in step with it.
//
// An Engine is bound to one dom.Page. It loads the annotations of the page
// URL from a Store, draws one marker per annotation, turns pointer input
// into new element or region annotations while selection is active, and
// routes thread mutations through a single thread controller. Layout
// signals are coalesced before markers are repositioned.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
	"github.com/hazyhaar/pagemark/engine/internal/dom"
	"github.com/hazyhaar/pagemark/engine/internal/locator"
	"github.com/hazyhaar/pagemark/engine/internal/notify"
	"github.com/hazyhaar/pagemark/engine/internal/relayout"
	"github.com/hazyhaar/pagemark/engine/internal/render"
	"github.com/hazyhaar/pagemark/engine/internal/selection"
	"github.com/hazyhaar/pagemark/engine/internal/thread"
	"github.com/hazyhaar/pagemark/idgen"
	"github.com/hazyhaar/pagemark/kit"
)

// ErrNoSelection is returned by CreateAnnotation when nothing is selected.
var ErrNoSelection = errors.New("engine: no pending selection")

// Store is the persistence boundary. store.Repo satisfies it.
type Store interface {
	Fetch(ctx context.Context, pageURL string) ([]annotation.Annotation, error)
	Add(ctx context.Context, a annotation.Annotation) error
	Update(ctx context.Context, a annotation.Annotation) error
	Delete(ctx context.Context, a annotation.Annotation) error
}

// Event is an outbound notification.
type Event = notify.Event

// Sink receives outbound notifications.
type Sink = notify.Sink

// Notification types.
const (
	EventAdded   = notify.Added
	EventDeleted = notify.Deleted
)

// Selection is a finished selection waiting for its first comment.
type Selection struct {
	Kind     annotation.Kind
	Locator  *annotation.Locator
	Region   *annotation.Region
	Viewport annotation.Viewport
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithIDs sets the annotation and comment id generator.
func WithIDs(gen idgen.Generator) Option { return func(e *Engine) { e.ids = gen } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithConfirmer sets how destructive thread actions are approved. The
// default reads approval from the call context.
func WithConfirmer(c thread.Confirmer) Option { return func(e *Engine) { e.confirm = c } }

// WithSink adds a notification sink next to those named in the config.
func WithSink(s Sink) Option { return func(e *Engine) { e.sinks = append(e.sinks, s) } }

// WithCallback delivers notifications to fn.
func WithCallback(fn func(ctx context.Context, ev Event) error) Option {
	return WithSink(notify.NewCallback(fn))
}

// WithSelectionHook runs fn each time a selection is ready for its first
// comment.
func WithSelectionHook(fn func(Selection)) Option { return func(e *Engine) { e.onSelect = fn } }

// Engine is the annotation engine of one page.
type Engine struct {
	cfg   Config
	page  dom.Page
	store Store

	set       *annotation.Set
	renderer  *render.Renderer
	selection *selection.Controller
	threads   *thread.Controller
	relayout  *relayout.Debouncer
	notify    *notify.Router
	commands  [numCommands]func(Command) error

	ids      idgen.Generator
	eventIDs idgen.Generator
	now      func() time.Time
	confirm  thread.Confirmer
	sinks    []Sink
	onSelect func(Selection)
	logger   *slog.Logger

	mu        sync.Mutex
	pageURL   string
	pending   *Selection
	closed    bool
	sends     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New wires an Engine over page and st. cfg may be nil.
func New(cfg *Config, page dom.Page, st Store, opts ...Option) (*Engine, error) {
	if page == nil {
		return nil, fmt.Errorf("engine: page is required")
	}
	if st == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.defaults()

	e := &Engine{
		cfg:      c,
		page:     page,
		store:    st,
		set:      annotation.NewSet(),
		ids:      idgen.UUIDv4(),
		eventIDs: idgen.Prefixed("evt_", idgen.UUIDv7()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	sinks := e.sinks
	if c.Notify.Stdout {
		sinks = append(sinks, notify.NewStdout(os.Stdout))
	}
	if c.Notify.Webhook != "" {
		sinks = append(sinks, notify.NewWebhook(c.Notify.Webhook,
			notify.WithWebhookToken(c.Notify.WebhookToken),
			notify.WithWebhookLogger(e.logger)))
	}
	e.notify = notify.NewRouter(e.logger, sinks...)

	e.renderer = render.New(render.Config{
		Page:       page,
		Policy:     c.Breakpoints,
		Visibility: c.Display.Visibility(),
		OnOpen:     e.openThread,
		Logger:     e.logger,
	})
	e.selection = selection.New(selection.Config{
		Page:          page,
		Eligible:      eligible(c.Selection.Within),
		DragThreshold: c.Selection.DragThreshold,
		MinRegion:     c.Selection.MinRegion,
		OnElement:     e.onElement,
		OnRegion:      e.onRegion,
		Logger:        e.logger,
	})
	e.threads = thread.New(thread.Config{
		Set:       e.set,
		Store:     st,
		Renderer:  e.renderer,
		Surface:   page,
		Confirm:   e.confirm,
		Author:    e.author,
		IDs:       e.ids,
		Now:       e.now,
		Timeout:   c.PersistTimeout,
		OnDeleted: func(a annotation.Annotation) { e.emit(notify.Deleted, a) },
		Logger:    e.logger,
	})
	e.relayout = relayout.New(c.Relayout, e.layout)
	e.commands = e.commandTable()
	return e, nil
}

// eligible limits selection starts to elements inside the body and, when
// tags are given, inside one of those blocks.
func eligible(within []string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		body := dom.Closest(n, "body")
		if body == nil || body == n {
			return false
		}
		if len(within) == 0 {
			return true
		}
		for _, tag := range within {
			if dom.Closest(n, tag) != nil {
				return true
			}
		}
		return false
	}
}

func (e *Engine) author(ctx context.Context) annotation.Author {
	if kit.GetUserID(ctx) == "" && e.cfg.Reviewer.Name != "" {
		return e.cfg.Reviewer
	}
	return thread.AuthorFromContext(ctx)
}

// Load replaces the page annotations with those stored for pageURL and
// draws their markers. On a fetch error the page is left empty.
func (e *Engine) Load(ctx context.Context, pageURL string) error {
	e.mu.Lock()
	e.pageURL = pageURL
	e.pending = nil
	e.mu.Unlock()

	e.threads.Close()
	e.renderer.RemoveAll()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	list, err := e.store.Fetch(ctx, pageURL)
	if err != nil {
		e.set.Reset(nil)
		e.logger.Warn("engine: load failed", "url", pageURL, "error", err)
		return fmt.Errorf("engine: load %s: %w", pageURL, err)
	}
	e.threads.Rebase(list)
	for _, a := range e.set.List() {
		e.renderer.CreateOverlay(a)
	}
	e.logger.Info("engine: page loaded", "url", pageURL, "annotations", len(list))
	return nil
}

// Refresh re-reads the current page's annotations and rebuilds the markers.
// Thread changes still being saved are kept on top of what the store
// returned. The pending selection survives, and so does the open thread
// while its annotation still exists.
func (e *Engine) Refresh(ctx context.Context) error {
	pageURL := e.URL()
	if pageURL == "" {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	list, err := e.store.Fetch(fctx, pageURL)
	if err != nil {
		return fmt.Errorf("engine: refresh %s: %w", pageURL, err)
	}
	if e.URL() != pageURL {
		return nil
	}
	e.threads.Rebase(list)
	e.renderer.RemoveAll()
	for _, a := range e.set.List() {
		e.renderer.CreateOverlay(a)
	}
	if id := e.threads.Current(); id != "" {
		if _, ok := e.set.Get(id); ok {
			_ = e.threads.Open(id)
		} else {
			e.threads.Close()
		}
	}
	e.logger.Debug("engine: page refreshed", "url", pageURL, "annotations", len(list))
	return nil
}

// URL returns the page URL passed to the last Load.
func (e *Engine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageURL
}

// Activate starts listening for selections.
func (e *Engine) Activate() error { return e.Execute(Command{Kind: CmdActivate}) }

// Deactivate stops listening and drops any pending selection.
func (e *Engine) Deactivate() error { return e.Execute(Command{Kind: CmdDeactivate}) }

// Active reports whether selection is on.
func (e *Engine) Active() bool { return e.selection.Active() }

func (e *Engine) onElement(sel selection.ElementSelection) {
	loc, err := locator.Build(sel.Element)
	if err != nil {
		e.logger.Warn("engine: element not addressable", "error", err)
		return
	}
	e.setPending(Selection{
		Kind:     annotation.KindElement,
		Locator:  &loc,
		Viewport: e.viewport(sel.Metrics),
	})
}

func (e *Engine) onRegion(sel selection.RegionSelection) {
	m := sel.Metrics
	e.setPending(Selection{
		Kind: annotation.KindRegion,
		Region: &annotation.Region{
			Absolute:       sel.Absolute,
			ViewportWidth:  m.ViewportWidth,
			ViewportHeight: m.ViewportHeight,
			ScrollX:        m.ScrollX,
			ScrollY:        m.ScrollY,
			Responsive:     sel.Responsive,
		},
		Viewport: e.viewport(m),
	})
}

func (e *Engine) viewport(m coord.Metrics) annotation.Viewport {
	return annotation.Viewport{
		Category: e.cfg.Breakpoints.Category(m.ViewportWidth),
		Width:    m.ViewportWidth,
		Height:   m.ViewportHeight,
	}
}

func (e *Engine) setPending(s Selection) {
	e.mu.Lock()
	e.pending = &s
	e.mu.Unlock()
	e.logger.Debug("engine: selection pending", "kind", s.Kind)
	if err := e.threads.Compose(s.Kind, ""); err != nil {
		e.logger.Warn("engine: compose failed", "error", err)
	}
	if e.onSelect != nil {
		e.onSelect(s)
	}
}

// Pending returns the selection waiting for its first comment.
func (e *Engine) Pending() (Selection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Selection{}, false
	}
	return *e.pending, true
}

// CancelSelection drops the pending selection and its compose form.
func (e *Engine) CancelSelection() { e.discardPending() }

func (e *Engine) discardPending() {
	e.mu.Lock()
	had := e.pending != nil
	e.pending = nil
	e.mu.Unlock()
	if had && e.threads.Composing() {
		e.threads.Close()
	}
}

// CreateAnnotation turns the pending selection into an annotation whose
// first comment is text. The annotation is shown only once the store has
// accepted it; on failure the selection stays pending so the reviewer can
// retry.
func (e *Engine) CreateAnnotation(ctx context.Context, text string) (annotation.Annotation, error) {
	text, err := annotation.CheckText(text)
	if err != nil {
		return annotation.Annotation{}, err
	}
	e.mu.Lock()
	p, pageURL := e.pending, e.pageURL
	e.mu.Unlock()
	if p == nil {
		return annotation.Annotation{}, ErrNoSelection
	}

	now := e.now().UnixMilli()
	a := annotation.Annotation{
		ID:        e.ids(),
		Kind:      p.Kind,
		CreatedAt: now,
		PageURL:   pageURL,
		Viewport:  p.Viewport,
		Status:    annotation.StatusOpen,
		Locator:   p.Locator,
		Region:    p.Region,
		Comments: []annotation.Comment{{
			ID:        e.ids(),
			Text:      text,
			Author:    e.author(ctx),
			Timestamp: now,
		}},
	}
	if err := a.Validate(); err != nil {
		return annotation.Annotation{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	if err := e.store.Add(pctx, a); err != nil {
		e.logger.Warn("engine: create failed", "id", a.ID, "error", err)
		if cerr := e.threads.Compose(p.Kind, "Could not save the annotation. Please try again."); cerr != nil {
			e.logger.Warn("engine: compose failed", "error", cerr)
		}
		return annotation.Annotation{}, fmt.Errorf("engine: create: %w", err)
	}

	e.mu.Lock()
	if e.pending == p {
		e.pending = nil
	}
	e.mu.Unlock()
	if e.threads.Composing() {
		e.threads.Close()
	}
	e.set.Put(a)
	e.renderer.CreateOverlay(a)
	e.emit(notify.Added, a)
	e.logger.Info("engine: annotation created", "id", a.ID, "kind", a.Kind)
	return a.Clone(), nil
}

func (e *Engine) emit(typ notify.Type, a annotation.Annotation) {
	ev := notify.NewEvent(e.eventIDs, typ, a, e.now())
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.sends.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.notify.Send(ctx, ev)
	}()
}

func (e *Engine) openThread(id string) {
	if err := e.OpenThread(id); err != nil {
		e.logger.Warn("engine: open thread failed", "id", id, "error", err)
	}
}

// OpenThread shows the thread panel of annotation id.
func (e *Engine) OpenThread(id string) error {
	if err := e.threads.Open(id); err != nil {
		return err
	}
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	return nil
}

// CloseThread removes the thread panel.
func (e *Engine) CloseThread() { e.threads.Close() }

// CurrentThread returns the id of the open thread, or "".
func (e *Engine) CurrentThread() string { return e.threads.Current() }

// Reply appends a comment to annotation id. The returned channel yields the
// persistence outcome.
func (e *Engine) Reply(ctx context.Context, id, text string) (<-chan error, error) {
	return e.threads.Reply(ctx, id, text)
}

// EditComment replaces the text of one comment.
func (e *Engine) EditComment(ctx context.Context, id, commentID, text string) (<-chan error, error) {
	return e.threads.EditComment(ctx, id, commentID, text)
}

// DeleteComment removes one comment after confirmation.
func (e *Engine) DeleteComment(ctx context.Context, id, commentID string) (<-chan error, error) {
	return e.threads.DeleteComment(ctx, id, commentID)
}

// ToggleResolved flips an annotation between open and resolved after
// confirmation.
func (e *Engine) ToggleResolved(ctx context.Context, id string) (<-chan error, error) {
	return e.threads.ToggleResolved(ctx, id)
}

// DeleteAnnotation removes an annotation after confirmation.
func (e *Engine) DeleteAnnotation(ctx context.Context, id string) (<-chan error, error) {
	return e.threads.DeleteAnnotation(ctx, id)
}

// Annotation returns a copy of annotation id.
func (e *Engine) Annotation(id string) (annotation.Annotation, bool) { return e.set.Get(id) }

// Annotations returns copies of the page annotations.
func (e *Engine) Annotations() []annotation.Annotation { return e.set.List() }

// Visibility returns the layer flags.
func (e *Engine) Visibility() render.Visibility { return e.renderer.Visibility() }

// Shown reports whether the marker of id is currently displayed.
func (e *Engine) Shown(id string) bool { return e.renderer.Shown(id) }

// Signal records a layout signal. Bursts are coalesced into one pass.
func (e *Engine) Signal(r relayout.Reason) { e.relayout.Trigger(r) }

func (e *Engine) layout(b relayout.Batch) {
	list := e.set.List()
	e.renderer.UpdateAll(list)
	e.logger.Debug("engine: relayout", "signals", b.Count, "annotations", len(list))
}

// Close stops selection and layout, waits for pending saves and
// notifications, and releases the sinks.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.selection.Deactivate()
		e.relayout.Stop()
		e.threads.Wait()
		e.threads.Close()

		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.sends.Wait()
		e.closeErr = e.notify.Close()
	})
	return e.closeErr
}
