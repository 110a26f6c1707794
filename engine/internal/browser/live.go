package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
	"github.com/hazyhaar/pagemark/engine/internal/dom"
)

//go:embed bridge.js
var bridgeJS string

// bindingName is the window function the bridge reports through.
const bindingName = "__pagemark_binding"

// Action is a click or submit inside the thread panel.
type Action struct {
	Name    string `json:"action"`
	Thread  string `json:"thread,omitempty"`
	Comment string `json:"comment,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Handlers receive what the page reports besides pointer events.
type Handlers struct {
	// OnLayout runs after the page resized, scrolled or mutated. reason is
	// "resize", "scroll" or "mutation".
	OnLayout func(reason string)
	// OnOverlay runs when an overlay marker is clicked.
	OnOverlay func(id string)
	OnAction  func(Action)
	// OnNavigate runs when a document finished loading in the tab.
	OnNavigate func(url string)
}

type message struct {
	Kind   string  `json:"kind"`
	Type   string  `json:"type,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Target int     `json:"target,omitempty"`
	Reason string  `json:"reason,omitempty"`
	ID     string  `json:"id,omitempty"`
	URL    string  `json:"url,omitempty"`
	Action
}

type snapshot struct {
	HTML    string        `json:"html"`
	Boxes   [][4]float64  `json:"boxes"`
	Metrics coord.Metrics `json:"metrics"`
}

// LivePage is a dom.Page over a Chrome tab. Document and Bounds answer from
// the last snapshot, refreshed on load, resize and mutation; Metrics asks
// the tab every time.
type LivePage struct {
	dom.Listeners

	page    *rod.Page
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	doc      *html.Node
	elements []*html.Node
	index    map[*html.Node]int
	boxes    []annotation.Rect
	url      string
	handlers Handlers

	events chan message
	done   chan struct{}
	once   sync.Once
	stop   func() error
}

// Options configure Open.
type Options struct {
	// Timeout bounds each call into the tab. Default: 5s.
	Timeout time.Duration
	// NavigationTimeout bounds the first load. Default: 30s.
	NavigationTimeout time.Duration
	Logger            *slog.Logger
}

// Open creates a tab on the manager's browser, installs the bridge and
// navigates to pageURL.
func Open(ctx context.Context, mgr *Manager, pageURL string, opts Options) (*LivePage, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = mgr.cfg.Logger
	}
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Mode == Plain {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	p := &LivePage{
		page:    page,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		index:   make(map[*html.Node]int),
		events:  make(chan message, 256),
		done:    make(chan struct{}),
	}

	stop, err := page.Expose(bindingName, p.receive)
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: expose binding: %w", err)
	}
	p.stop = stop
	if _, err := page.EvalOnNewDocument(bridgeJS); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: install bridge: %w", err)
	}
	go p.loop()

	navCtx, cancel := context.WithTimeout(ctx, opts.NavigationTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	p.mu.Lock()
	p.url = pageURL
	p.mu.Unlock()
	if err := p.Refresh(); err != nil {
		p.logger.Warn("browser: initial snapshot failed", "url", pageURL, "error", err)
	}
	return p, nil
}

// SetHandlers replaces the page callbacks.
func (p *LivePage) SetHandlers(h Handlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

// URL returns the address of the loaded document.
func (p *LivePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Refresh takes a new snapshot of the document and its layout.
func (p *LivePage) Refresh() error {
	res, err := p.page.Timeout(p.timeout).Eval(`() => window.__pagemark ? window.__pagemark.snapshot() : null`)
	if err != nil {
		return fmt.Errorf("browser: snapshot: %w", err)
	}
	if res.Value.Nil() {
		return fmt.Errorf("browser: snapshot: bridge not installed")
	}
	var snap snapshot
	if err := res.Value.Unmarshal(&snap); err != nil {
		return fmt.Errorf("browser: decode snapshot: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(snap.HTML))
	if err != nil {
		return fmt.Errorf("browser: parse snapshot: %w", err)
	}

	var elements []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	index := make(map[*html.Node]int, len(elements))
	boxes := make([]annotation.Rect, 0, len(snap.Boxes))
	if len(elements) == len(snap.Boxes) {
		for i, n := range elements {
			index[n] = i
		}
		for _, b := range snap.Boxes {
			boxes = append(boxes, annotation.Rect{Left: b[0], Top: b[1], Width: b[2], Height: b[3]})
		}
	} else {
		// Reparsing the serialized tree does not always reproduce the live
		// one; without a one to one mapping no node has a box.
		p.logger.Warn("browser: snapshot tree mismatch", "parsed", len(elements), "live", len(snap.Boxes))
		elements = nil
	}

	p.mu.Lock()
	p.doc = doc
	p.elements = elements
	p.index = index
	p.boxes = boxes
	p.mu.Unlock()
	return nil
}

func (p *LivePage) Document() *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

func (p *LivePage) Metrics() (coord.Metrics, error) {
	res, err := p.page.Timeout(p.timeout).Eval(`() => window.__pagemark ? window.__pagemark.metrics() : null`)
	if err != nil {
		return coord.Metrics{}, fmt.Errorf("browser: metrics: %w", err)
	}
	if res.Value.Nil() {
		return coord.Metrics{}, fmt.Errorf("browser: metrics: bridge not installed")
	}
	var m coord.Metrics
	if err := res.Value.Unmarshal(&m); err != nil {
		return coord.Metrics{}, fmt.Errorf("browser: decode metrics: %w", err)
	}
	return m, nil
}

func (p *LivePage) Bounds(n *html.Node) (annotation.Rect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[n]
	if !ok || i >= len(p.boxes) {
		return annotation.Rect{}, false
	}
	return p.boxes[i], true
}

func (p *LivePage) ToggleBodyClass(class string, on bool) error {
	if _, err := p.page.Timeout(p.timeout).Eval(`(c, on) => document.body && document.body.classList.toggle(c, on)`, class, on); err != nil {
		return fmt.Errorf("browser: toggle body class: %w", err)
	}
	p.mu.Lock()
	if body := dom.Body(p.doc); body != nil {
		dom.SetClass(body, class, on)
	}
	p.mu.Unlock()
	return nil
}

func (p *LivePage) ToggleClass(n *html.Node, class string, on bool) error {
	p.mu.Lock()
	i, ok := p.index[n]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("browser: toggle class: node not in snapshot")
	}
	if _, err := p.page.Timeout(p.timeout).Eval(`(i, c, on) => window.__pagemark.toggle(i, c, on)`, i, class, on); err != nil {
		return fmt.Errorf("browser: toggle class: %w", err)
	}
	p.mu.Lock()
	dom.SetClass(n, class, on)
	p.mu.Unlock()
	return nil
}

func (p *LivePage) SetMarquee(r *annotation.Rect) error {
	if _, err := p.page.Timeout(p.timeout).Eval(`(r) => window.__pagemark.marquee(r)`, r); err != nil {
		return fmt.Errorf("browser: marquee: %w", err)
	}
	return nil
}

func (p *LivePage) PaintLayer(markup string) error    { return p.paint("layer", markup) }
func (p *LivePage) PaintPanel(markup string) error    { return p.paint("panel", markup) }
func (p *LivePage) PaintComments(markup string) error { return p.paint("comments", markup) }

func (p *LivePage) paint(slot, markup string) error {
	res, err := p.page.Timeout(p.timeout).Eval(`(s, m) => window.__pagemark ? window.__pagemark.paint(s, m) : false`, slot, markup)
	if err != nil {
		return fmt.Errorf("browser: paint %s: %w", slot, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: paint %s: no surface", slot)
	}
	return nil
}

// Confirm asks the reviewer with a native dialog. It blocks until answered
// or ctx ends; any failure counts as a refusal.
func (p *LivePage) Confirm(ctx context.Context, prompt string) bool {
	res, err := p.page.Context(ctx).Eval(`(msg) => window.confirm(msg)`, prompt)
	if err != nil {
		p.logger.Debug("browser: confirm failed", "error", err)
		return false
	}
	return res.Value.Bool()
}

// Close stops event delivery and closes the tab.
func (p *LivePage) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if p.stop != nil {
			_ = p.stop()
		}
		err = p.page.Close()
	})
	return err
}

// receive runs on rod's event goroutine; it only queues.
func (p *LivePage) receive(arg gson.JSON) (any, error) {
	var msg message
	if err := arg.Unmarshal(&msg); err != nil {
		return nil, err
	}
	if msg.Kind == "pointer" && msg.Type == string(dom.PointerMove) {
		select {
		case p.events <- msg:
		default:
		}
		return nil, nil
	}
	select {
	case p.events <- msg:
	case <-p.done:
	}
	return nil, nil
}

func (p *LivePage) loop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.events:
			p.handle(msg)
		}
	}
}

func (p *LivePage) handle(msg message) {
	p.mu.Lock()
	h := p.handlers
	p.mu.Unlock()

	switch msg.Kind {
	case "pointer":
		ev := &dom.Event{Type: dom.EventType(msg.Type), ClientX: msg.X, ClientY: msg.Y, Target: p.node(msg.Target)}
		p.Dispatch(ev)
	case "layout":
		if msg.Reason != "scroll" {
			if err := p.Refresh(); err != nil {
				p.logger.Warn("browser: refresh failed", "reason", msg.Reason, "error", err)
			}
		}
		if h.OnLayout != nil {
			h.OnLayout(msg.Reason)
		}
	case "overlay":
		if h.OnOverlay != nil {
			h.OnOverlay(msg.ID)
		}
	case "action":
		if h.OnAction != nil {
			h.OnAction(msg.Action)
		}
	case "navigate":
		if err := p.Refresh(); err != nil {
			p.logger.Warn("browser: refresh failed", "url", msg.URL, "error", err)
		}
		p.mu.Lock()
		changed := p.url != msg.URL
		p.url = msg.URL
		p.mu.Unlock()
		if changed && h.OnNavigate != nil {
			h.OnNavigate(msg.URL)
		}
	default:
		p.logger.Debug("browser: unknown bridge message", "kind", msg.Kind)
	}
}

func (p *LivePage) node(i int) *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.elements) {
		return nil
	}
	return p.elements[i]
}

var _ dom.Page = (*LivePage)(nil)
