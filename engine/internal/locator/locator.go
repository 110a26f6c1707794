// Package locator builds and replays structural element locators over
// golang.org/x/net/html trees. A locator is an optional id anchor plus a
// root-to-leaf list of tag segments; a segment carries a 1-based index only
// when its tag is shared by more than one element sibling.
package locator

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
)

var (
	// ErrNotFound is reported when a locator no longer matches the tree.
	ErrNotFound = errors.New("locator: element not found")
	// ErrDetached is returned by Build for nodes outside a document.
	ErrDetached = errors.New("locator: element is not attached to a document")
)

// fallbackAttrs are recorded alongside the path to detect drift.
var fallbackAttrs = []string{"class", "name", "role", "aria-label", "data-testid"}

// Build returns the locator of element n. An element with an id is located
// by that id alone; otherwise the path climbs until the first ancestor with
// an id, or the document root.
func Build(n *html.Node) (annotation.Locator, error) {
	if n == nil || n.Type != html.ElementNode {
		return annotation.Locator{}, fmt.Errorf("locator: build: not an element")
	}
	if !attached(n) {
		return annotation.Locator{}, ErrDetached
	}

	var loc annotation.Locator
	var segs []annotation.Segment
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := idOf(cur); id != "" {
			loc.ID = id
			break
		}
		segs = append(segs, segment(cur))
	}
	// Collected leaf-to-root; stored root-to-leaf.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	loc.Path = segs
	loc.Fallback = fallbackOf(n)
	return loc, nil
}

// Resolve replays l against doc. It never panics; a locator that does not
// match yields (nil, false).
func Resolve(doc *html.Node, l annotation.Locator) (*html.Node, bool) {
	if doc == nil || l.Empty() {
		return nil, false
	}
	cur := doc
	if l.ID != "" {
		cur = byID(doc, l.ID)
		if cur == nil {
			return nil, false
		}
	}
	for _, seg := range l.Path {
		cur = nthChild(cur, seg)
		if cur == nil {
			return nil, false
		}
	}
	if cur.Type != html.ElementNode {
		return nil, false
	}
	return cur, true
}

// Drifted reports whether n no longer carries the fallback attributes
// recorded in l.
func Drifted(n *html.Node, l annotation.Locator) bool {
	for k, want := range l.Fallback {
		got, ok := attr(n, k)
		if !ok || got != want {
			return true
		}
	}
	return false
}

func segment(n *html.Node) annotation.Segment {
	seg := annotation.Segment{Tag: n.Data}
	if n.Parent == nil {
		return seg
	}
	idx, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	if total > 1 {
		seg.Index = idx
	}
	return seg
}

// nthChild returns the element child of parent matching seg; an index of 0
// selects the first match.
func nthChild(parent *html.Node, seg annotation.Segment) *html.Node {
	want := seg.Index
	if want <= 0 {
		want = 1
	}
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != seg.Tag {
			continue
		}
		count++
		if count == want {
			return c
		}
	}
	return nil
}

func byID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && idOf(n) == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := byID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attached(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

func idOf(n *html.Node) string {
	v, _ := attr(n, "id")
	return strings.TrimSpace(v)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func fallbackOf(n *html.Node) map[string]string {
	var out map[string]string
	for _, k := range fallbackAttrs {
		if v, ok := attr(n, k); ok && v != "" {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}
