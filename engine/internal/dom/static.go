package dom

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
)

// ErrUnavailable simulates a host API that cannot answer.
var ErrUnavailable = errors.New("dom: host api unavailable")

// Static is an in-memory Page over a parsed document with an explicit
// layout table. It backs tests and offline rendering.
type Static struct {
	Listeners

	mu          sync.Mutex
	doc         *html.Node
	metrics     coord.Metrics
	metricsErr  error
	boxes       map[*html.Node]annotation.Rect
	marquee     *annotation.Rect
	layer       string
	panel       string
	comments    string
	paintErr    error
	layerPaints int
}

// NewStatic parses markup into a Static page with metrics m.
func NewStatic(markup string, m coord.Metrics) (*Static, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Static{doc: doc, metrics: m, boxes: make(map[*html.Node]annotation.Rect)}, nil
}

func (s *Static) Document() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// SetDocument swaps the document tree, dropping the layout table.
func (s *Static) SetDocument(doc *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.boxes = make(map[*html.Node]annotation.Rect)
}

func (s *Static) Metrics() (coord.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsErr != nil {
		return coord.Metrics{}, s.metricsErr
	}
	return s.metrics, nil
}

// SetMetrics replaces the page geometry.
func (s *Static) SetMetrics(m coord.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// FailMetrics makes Metrics return err until called again with nil.
func (s *Static) FailMetrics(err error) {
	s.mu.Lock()
	s.metricsErr = err
	s.mu.Unlock()
}

// FailPaint makes PaintLayer and PaintPanel return err.
func (s *Static) FailPaint(err error) {
	s.mu.Lock()
	s.paintErr = err
	s.mu.Unlock()
}

func (s *Static) Bounds(n *html.Node) (annotation.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.boxes[n]
	return r, ok
}

// SetBounds records the layout box of n.
func (s *Static) SetBounds(n *html.Node, r annotation.Rect) {
	s.mu.Lock()
	s.boxes[n] = r
	s.mu.Unlock()
}

func (s *Static) ToggleBodyClass(class string, on bool) error {
	body := Body(s.Document())
	if body == nil {
		return fmt.Errorf("dom: no body")
	}
	s.mu.Lock()
	SetClass(body, class, on)
	s.mu.Unlock()
	return nil
}

func (s *Static) ToggleClass(n *html.Node, class string, on bool) error {
	if n == nil || n.Type != html.ElementNode {
		return fmt.Errorf("dom: toggle class on non-element")
	}
	s.mu.Lock()
	SetClass(n, class, on)
	s.mu.Unlock()
	return nil
}

func (s *Static) SetMarquee(r *annotation.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		s.marquee = nil
		return nil
	}
	c := *r
	s.marquee = &c
	return nil
}

// Marquee returns the visible drag rectangle, if any.
func (s *Static) Marquee() (annotation.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marquee == nil {
		return annotation.Rect{}, false
	}
	return *s.marquee, true
}

func (s *Static) PaintLayer(markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paintErr != nil {
		return s.paintErr
	}
	s.layer = markup
	s.layerPaints++
	return nil
}

func (s *Static) PaintPanel(markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paintErr != nil {
		return s.paintErr
	}
	s.panel = markup
	s.comments = ""
	return nil
}

func (s *Static) PaintComments(markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paintErr != nil {
		return s.paintErr
	}
	s.comments = markup
	return nil
}

// Comments returns the comment list painted since the last PaintPanel.
func (s *Static) Comments() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments
}

// Layer returns the last painted overlay layer markup.
func (s *Static) Layer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer
}

// LayerPaints counts successful PaintLayer calls.
func (s *Static) LayerPaints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerPaints
}

// Panel returns the last painted thread panel markup.
func (s *Static) Panel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel
}

// Pointer dispatches an event of typ at client (x, y) on target.
func (s *Static) Pointer(typ EventType, x, y float64, target *html.Node) *Event {
	return s.Dispatch(&Event{Type: typ, ClientX: x, ClientY: y, Target: target})
}

// ByID returns the first element of doc whose id attribute equals id.
func ByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	walkElements(doc, func(n *html.Node) bool {
		if v, ok := Attr(n, "id"); ok && v == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Elements returns every element of doc with the given tag in document order.
func Elements(doc *html.Node, tag string) []*html.Node {
	var out []*html.Node
	walkElements(doc, func(n *html.Node) bool {
		if n.Data == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// walkElements visits elements depth-first until fn returns false.
func walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if n.Type == html.ElementNode && !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkElements(c, fn) {
			return false
		}
	}
	return true
}
