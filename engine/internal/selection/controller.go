// Package selection turns raw pointer events on the host page into element
// or region selections. A press that moves further than the drag threshold
// becomes a region drag; any other press selects the element under it.
package selection

import (
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
	"github.com/hazyhaar/pagemark/engine/internal/dom"
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Armed
	Hovering
	Dragging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Hovering:
		return "hovering"
	case Dragging:
		return "dragging"
	default:
		return "unknown"
	}
}

// ElementSelection is emitted when a press is released without dragging.
type ElementSelection struct {
	Element *html.Node
	Metrics coord.Metrics
}

// RegionSelection is emitted when a drag spanning at least the minimum
// region size is released. Responsive is nil when the page geometry could
// not be converted.
type RegionSelection struct {
	Absolute   annotation.Rect
	Responsive *annotation.Responsive
	Metrics    coord.Metrics
}

// Config configures a Controller.
type Config struct {
	Page dom.Page

	// Eligible decides which press targets may start a selection.
	// Nil accepts every element.
	Eligible func(*html.Node) bool

	// DragThreshold is the distance a press must travel to become a drag.
	// Default: 5.
	DragThreshold float64
	// MinRegion is the minimum width and height of a kept region.
	// Default: 10.
	MinRegion float64

	BodyClass  string
	HoverClass string

	OnElement func(ElementSelection)
	OnRegion  func(RegionSelection)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DragThreshold <= 0 {
		c.DragThreshold = 5
	}
	if c.MinRegion <= 0 {
		c.MinRegion = 10
	}
	if c.BodyClass == "" {
		c.BodyClass = "pagemark-selecting"
	}
	if c.HoverClass == "" {
		c.HoverClass = "pagemark-hover"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type press struct {
	startX, startY float64
	target         *html.Node
	metrics        coord.Metrics
	rect           annotation.Rect
	removeMove     func()
	removeUp       func()
}

// Controller is the selection state machine.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	removes []func()
	hovered *html.Node
	press   *press
}

// New creates an idle Controller.
func New(cfg Config) *Controller {
	cfg.defaults()
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the controller is listening.
func (c *Controller) Active() bool {
	return c.State() != Idle
}

// Activate arms the controller. Calling it while active does nothing.
func (c *Controller) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return
	}
	p := c.cfg.Page
	c.removes = []func(){
		p.Listen(dom.PointerDown, true, c.onDown),
		p.Listen(dom.PointerOver, true, c.onOver),
		p.Listen(dom.PointerOut, true, c.onOut),
		p.Listen(dom.Click, true, c.onClick),
	}
	if err := p.ToggleBodyClass(c.cfg.BodyClass, true); err != nil {
		c.cfg.Logger.Warn("selection: tag body failed", "error", err)
	}
	c.state = Armed
}

// Deactivate removes every listener, cancels any drag and clears the hover
// highlight. It is safe in any state.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}
	for _, rm := range c.removes {
		rm()
	}
	c.removes = nil
	c.endPressLocked()
	c.clearHoverLocked()
	if err := c.cfg.Page.ToggleBodyClass(c.cfg.BodyClass, false); err != nil {
		c.cfg.Logger.Warn("selection: untag body failed", "error", err)
	}
	c.state = Idle
}

func (c *Controller) eligible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return c.cfg.Eligible == nil || c.cfg.Eligible(n)
}

func (c *Controller) onDown(ev *dom.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle || c.press != nil || !c.eligible(ev.Target) {
		return
	}
	m, err := c.cfg.Page.Metrics()
	if err != nil {
		c.cfg.Logger.Warn("selection: metrics unavailable", "error", err)
		return
	}
	p := &press{
		startX:  ev.ClientX + m.ScrollX,
		startY:  ev.ClientY + m.ScrollY,
		target:  ev.Target,
		metrics: m,
	}
	p.removeMove = c.cfg.Page.Listen(dom.PointerMove, true, c.onMove)
	p.removeUp = c.cfg.Page.Listen(dom.PointerUp, true, c.onUp)
	c.press = p
}

func (c *Controller) onMove(ev *dom.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.press
	if p == nil {
		return
	}
	if m, err := c.cfg.Page.Metrics(); err == nil {
		p.metrics = m
	}
	m := p.metrics
	x, y := ev.ClientX+m.ScrollX, ev.ClientY+m.ScrollY

	if c.state != Dragging {
		if coord.Distance(p.startX, p.startY, x, y) <= c.cfg.DragThreshold {
			return
		}
		c.clearHoverLocked()
		c.state = Dragging
	}
	x, y = coord.ClampToViewport(x, y, m)
	p.rect = coord.DragRect(p.startX, p.startY, x, y)
	if err := c.cfg.Page.SetMarquee(&p.rect); err != nil {
		c.cfg.Logger.Debug("selection: marquee failed", "error", err)
	}
}

func (c *Controller) onUp(ev *dom.Event) {
	c.mu.Lock()
	p := c.press
	if p == nil {
		c.mu.Unlock()
		return
	}
	dragging := c.state == Dragging
	if dragging {
		if m, err := c.cfg.Page.Metrics(); err == nil {
			p.metrics = m
		}
		m := p.metrics
		x, y := coord.ClampToViewport(ev.ClientX+m.ScrollX, ev.ClientY+m.ScrollY, m)
		p.rect = coord.DragRect(p.startX, p.startY, x, y)
	}
	c.clearHoverLocked()
	c.endPressLocked()
	c.state = Armed
	c.mu.Unlock()

	if !dragging {
		if c.cfg.OnElement != nil {
			c.cfg.OnElement(ElementSelection{Element: p.target, Metrics: p.metrics})
		}
		return
	}
	if p.rect.Width < c.cfg.MinRegion || p.rect.Height < c.cfg.MinRegion {
		c.cfg.Logger.Debug("selection: region below minimum discarded",
			"width", p.rect.Width, "height", p.rect.Height)
		return
	}
	sel := RegionSelection{Absolute: p.rect, Metrics: p.metrics}
	if resp, err := coord.PxToResponsive(p.rect, p.metrics); err == nil {
		sel.Responsive = &resp
	} else {
		c.cfg.Logger.Warn("selection: responsive conversion failed", "error", err)
	}
	if c.cfg.OnRegion != nil {
		c.cfg.OnRegion(sel)
	}
}

func (c *Controller) onOver(ev *dom.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle || c.state == Dragging || !c.eligible(ev.Target) {
		return
	}
	if c.hovered == ev.Target {
		return
	}
	c.clearHoverLocked()
	if err := c.cfg.Page.ToggleClass(ev.Target, c.cfg.HoverClass, true); err != nil {
		return
	}
	c.hovered = ev.Target
	if c.press == nil {
		c.state = Hovering
	}
}

func (c *Controller) onOut(ev *dom.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle || c.state == Dragging || c.hovered != ev.Target {
		return
	}
	c.clearHoverLocked()
	if c.state == Hovering {
		c.state = Armed
	}
}

// onClick keeps review clicks from following links.
func (c *Controller) onClick(ev *dom.Event) {
	if dom.Closest(ev.Target, "a") == nil {
		return
	}
	ev.PreventDefault()
	ev.StopPropagation()
}

func (c *Controller) clearHoverLocked() {
	if c.hovered == nil {
		return
	}
	_ = c.cfg.Page.ToggleClass(c.hovered, c.cfg.HoverClass, false)
	c.hovered = nil
}

func (c *Controller) endPressLocked() {
	p := c.press
	if p == nil {
		return
	}
	p.removeMove()
	p.removeUp()
	if c.state == Dragging {
		_ = c.cfg.Page.SetMarquee(nil)
	}
	c.press = nil
}
