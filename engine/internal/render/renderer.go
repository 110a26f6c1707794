// Package render owns the overlay layer: one marker per annotation, keyed
// by annotation id, positioned from its locator or region and shown or
// hidden by class rules evaluated against the layer flags.
package render

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
	"github.com/hazyhaar/pagemark/engine/internal/dom"
	"github.com/hazyhaar/pagemark/engine/internal/locator"
)

// Overlay is the marker of one annotation.
type Overlay struct {
	ID      string
	Kind    annotation.Kind
	Status  annotation.Status
	Box     annotation.Rect
	ZIndex  int
	classes map[string]bool
}

// Positioned reports whether the last layout pass placed the overlay.
func (o Overlay) Positioned() bool { return o.classes[classVisible] }

// Classes returns the overlay classes, sorted.
func (o Overlay) Classes() []string {
	out := make([]string, 0, len(o.classes))
	for c, on := range o.classes {
		if on {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Overlay) copy() Overlay {
	c := *o
	c.classes = make(map[string]bool, len(o.classes))
	for k, v := range o.classes {
		c.classes[k] = v
	}
	return c
}

// Config configures a Renderer.
type Config struct {
	Page   dom.Page
	Policy coord.Policy
	// Visibility holds the initial layer flags.
	Visibility Visibility
	// OnOpen is invoked with the annotation id when an overlay is clicked.
	OnOpen func(id string)
	Logger *slog.Logger
}

// Renderer is the single owner of the overlay layer.
type Renderer struct {
	page   dom.Page
	policy coord.Policy
	onOpen func(string)
	logger *slog.Logger

	mu       sync.Mutex
	vis      Visibility
	overlays map[string]*Overlay
	order    []string
}

// New creates a Renderer with an empty layer.
func New(cfg Config) *Renderer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{
		page:     cfg.Page,
		policy:   cfg.Policy.Normalize(),
		onOpen:   cfg.OnOpen,
		logger:   cfg.Logger,
		vis:      cfg.Visibility,
		overlays: make(map[string]*Overlay),
	}
}

// CreateOverlay adds the marker for a and positions it. An existing marker
// with the same id is repositioned instead of duplicated.
func (r *Renderer) CreateOverlay(a annotation.Annotation) {
	r.mu.Lock()
	o, ok := r.overlays[a.ID]
	if !ok {
		o = &Overlay{ID: a.ID, Kind: a.Kind, ZIndex: coord.BaseZIndex, classes: map[string]bool{classOverlay: true}}
		r.overlays[a.ID] = o
		r.order = append(r.order, a.ID)
	}
	m, err := r.page.Metrics()
	r.positionSafe(o, a, m, err)
	r.mu.Unlock()
	r.paint()
}

// PositionOverlay lays out the marker of a again. It reports whether the
// marker is now placed; false when it is unknown or cannot be placed.
func (r *Renderer) PositionOverlay(a annotation.Annotation) bool {
	r.mu.Lock()
	o, ok := r.overlays[a.ID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	m, err := r.page.Metrics()
	r.positionSafe(o, a, m, err)
	placed := o.classes[classVisible]
	r.mu.Unlock()
	r.paint()
	return placed
}

// UpdateAll re-lays out every tracked marker against as, matched by id.
// Markers without a matching annotation are left as they are and
// annotations without a marker are ignored.
func (r *Renderer) UpdateAll(as []annotation.Annotation) {
	r.mu.Lock()
	m, err := r.page.Metrics()
	for i := range as {
		if o, ok := r.overlays[as[i].ID]; ok {
			r.positionSafe(o, as[i], m, err)
		}
	}
	r.mu.Unlock()
	r.paint()
}

// RemoveOverlay drops the marker with id.
func (r *Renderer) RemoveOverlay(id string) bool {
	r.mu.Lock()
	_, ok := r.overlays[id]
	if ok {
		delete(r.overlays, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		r.paint()
	}
	return ok
}

// RemoveAll empties the layer.
func (r *Renderer) RemoveAll() {
	r.mu.Lock()
	r.overlays = make(map[string]*Overlay)
	r.order = nil
	r.mu.Unlock()
	r.paint()
}

func (r *Renderer) SetOpenVisible(on bool) {
	r.setFlag(func(v *Visibility) { v.Open = on })
}

func (r *Renderer) SetResolvedVisible(on bool) {
	r.setFlag(func(v *Visibility) { v.Resolved = on })
}

func (r *Renderer) SetAllVisible(on bool) {
	r.setFlag(func(v *Visibility) { v.All = on })
}

func (r *Renderer) setFlag(fn func(*Visibility)) {
	r.mu.Lock()
	before := r.vis
	fn(&r.vis)
	changed := before != r.vis
	r.mu.Unlock()
	if changed {
		r.paint()
	}
}

// Visibility returns the layer flags.
func (r *Renderer) Visibility() Visibility {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vis
}

// Shown reports whether the marker with id is displayed under the current
// flags.
func (r *Renderer) Shown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[id]
	return ok && shown(r.vis.classes(), o.classes)
}

// Overlay returns a copy of the marker with id.
func (r *Renderer) Overlay(id string) (Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[id]
	if !ok {
		return Overlay{}, false
	}
	return o.copy(), true
}

// Overlays returns copies of every marker in creation order.
func (r *Renderer) Overlays() []Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Overlay, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.overlays[id].copy())
	}
	return out
}

// Click handles a click on the marker with id: the click goes no further
// than the marker and the thread opener is called.
func (r *Renderer) Click(id string) bool {
	r.mu.Lock()
	_, ok := r.overlays[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if r.onOpen != nil {
		r.onOpen(id)
	}
	return true
}

// positionSafe lays out o and turns a panic into a skipped marker so the
// rest of a pass still runs.
func (r *Renderer) positionSafe(o *Overlay, a annotation.Annotation, m coord.Metrics, merr error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("render: position panicked", "id", a.ID, "panic", fmt.Sprint(rec))
			o.classes[classVisible] = false
		}
	}()
	r.position(o, a, m, merr)
}

func (r *Renderer) position(o *Overlay, a annotation.Annotation, m coord.Metrics, merr error) {
	for _, c := range stateClasses {
		delete(o.classes, c)
	}
	o.Status = a.Status
	o.Kind = a.Kind
	o.classes[statusClass(a.Status)] = true

	if merr != nil {
		r.logger.Warn("render: metrics unavailable", "id", a.ID, "error", merr)
		return
	}
	if !r.policy.ShouldShow(a.Viewport, m.ViewportWidth) {
		return
	}

	switch a.Kind {
	case annotation.KindRegion:
		box, ok := r.regionBox(a, m)
		if !ok {
			return
		}
		o.Box = box
		o.ZIndex = coord.BaseZIndex
	case annotation.KindElement:
		if a.Locator == nil {
			r.logger.Warn("render: element annotation has no locator", "id", a.ID)
			return
		}
		n, ok := locator.Resolve(r.page.Document(), *a.Locator)
		if !ok {
			r.logger.Debug("render: locator not found", "id", a.ID, "locator", a.Locator.String())
			return
		}
		if locator.Drifted(n, *a.Locator) {
			r.logger.Debug("render: anchor attributes drifted", "id", a.ID, "locator", a.Locator.String())
		}
		box, ok := r.page.Bounds(n)
		if !ok {
			r.logger.Debug("render: anchor has no layout box", "id", a.ID)
			return
		}
		o.Box = box
		o.ZIndex = coord.ZIndexForDepth(n)
	default:
		r.logger.Warn("render: unknown annotation kind", "id", a.ID, "kind", a.Kind)
		return
	}
	o.classes[classVisible] = true
}

// regionBox prefers the responsive rectangle and falls back to the
// captured pixels only for records that have none.
func (r *Renderer) regionBox(a annotation.Annotation, m coord.Metrics) (annotation.Rect, bool) {
	if a.Region == nil {
		r.logger.Warn("render: region annotation has no region", "id", a.ID)
		return annotation.Rect{}, false
	}
	if a.Region.Responsive != nil {
		box, err := coord.ResponsiveToPx(*a.Region.Responsive, m)
		if err != nil {
			r.logger.Debug("render: responsive conversion failed", "id", a.ID, "error", err)
			return annotation.Rect{}, false
		}
		return box, true
	}
	return legacyBox(*a.Region, m), true
}

// legacyBox places a pixel-only region. Regions captured in a narrower
// window (a review popup) against a centered layout are shifted by half the
// width difference; anything else is used as captured.
func legacyBox(reg annotation.Region, m coord.Metrics) annotation.Rect {
	box := reg.Absolute
	if reg.ViewportWidth > 0 && m.DocWidth <= m.ViewportWidth && reg.ViewportWidth < m.ViewportWidth {
		box.Left += (m.ViewportWidth - reg.ViewportWidth) / 2
	}
	return box
}

// Markup renders the layer and its markers.
func (r *Renderer) Markup() string {
	r.mu.Lock()
	root := r.layerNode()
	r.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		r.logger.Error("render: markup failed", "error", err)
		return ""
	}
	return b.String()
}

func (r *Renderer) layerNode() *html.Node {
	root := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "id", Val: layerID},
			{Key: "class", Val: joinClasses(r.vis.classes())},
		},
	}
	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: Stylesheet()})
	root.AppendChild(style)

	for _, id := range r.order {
		o := r.overlays[id]
		attrs := []html.Attribute{
			{Key: "class", Val: joinClasses(o.classes)},
			{Key: "data-pagemark-id", Val: o.ID},
			{Key: "data-pagemark-kind", Val: string(o.Kind)},
		}
		if o.classes[classVisible] {
			attrs = append(attrs, html.Attribute{Key: "style", Val: fmt.Sprintf(
				"left:%spx;top:%spx;width:%spx;height:%spx;z-index:%d",
				px(o.Box.Left), px(o.Box.Top), px(o.Box.Width), px(o.Box.Height), o.ZIndex)})
		}
		root.AppendChild(&html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div, Attr: attrs})
	}
	return root
}

func (r *Renderer) paint() {
	if err := r.page.PaintLayer(r.Markup()); err != nil {
		r.logger.Warn("render: paint layer failed", "error", err)
	}
}

func joinClasses(set map[string]bool) string {
	out := make([]string, 0, len(set))
	for c, on := range set {
		if on {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
