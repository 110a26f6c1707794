// Package dom abstracts the host page the engine annotates: its document
// tree, geometry, pointer events, and the few surfaces the engine paints
// outside that tree (overlay layer, thread panel, drag marquee).
package dom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
)

// Page is the host page. Implementations must return promptly; Metrics and
// Bounds failures are reported, never panicked.
type Page interface {
	// Document returns the current document tree. The engine never inserts
	// its own nodes into it.
	Document() *html.Node
	Metrics() (coord.Metrics, error)
	// Bounds returns the layout box of n in document coordinates.
	Bounds(n *html.Node) (annotation.Rect, bool)
	// Listen registers fn for typ. Capture listeners run before bubble
	// listeners. The returned func removes the registration.
	Listen(typ EventType, capture bool, fn Listener) (remove func())
	ToggleBodyClass(class string, on bool) error
	ToggleClass(n *html.Node, class string, on bool) error
	// SetMarquee shows the drag rectangle at r, or hides it when r is nil.
	SetMarquee(r *annotation.Rect) error
	PaintLayer(markup string) error
	// PaintPanel replaces the thread panel; empty markup removes it.
	PaintPanel(markup string) error
	// PaintComments replaces only the comment list of the open panel.
	PaintComments(markup string) error
}

// HasClass reports whether n carries class in its class attribute.
func HasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

// SetClass adds or removes class on n's class attribute.
func SetClass(n *html.Node, class string, on bool) {
	idx := -1
	var classes []string
	for i, a := range n.Attr {
		if a.Key == "class" {
			idx = i
			classes = strings.Fields(a.Val)
			break
		}
	}
	out := classes[:0:0]
	found := false
	for _, c := range classes {
		if c == class {
			found = true
			if !on {
				continue
			}
		}
		out = append(out, c)
	}
	if on && !found {
		out = append(out, class)
	}
	val := strings.Join(out, " ")
	switch {
	case idx >= 0 && val == "":
		n.Attr = append(n.Attr[:idx], n.Attr[idx+1:]...)
	case idx >= 0:
		n.Attr[idx].Val = val
	case val != "":
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: val})
	}
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Closest returns the nearest inclusive ancestor element of n with the
// given tag, or nil.
func Closest(n *html.Node, tag string) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.Data == tag {
			return n
		}
	}
	return nil
}

// Body returns the body element of doc, or nil.
func Body(doc *html.Node) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "body" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := walk(c); b != nil {
				return b
			}
		}
		return nil
	}
	if doc == nil {
		return nil
	}
	return walk(doc)
}
