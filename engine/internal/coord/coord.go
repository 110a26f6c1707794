// Package coord converts between absolute document pixels and the
// responsive units regions are stored in, clamps pointer positions to the
// visible viewport, and decides overlay stacking and breakpoint visibility.
package coord

import (
	"errors"
	"math"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
)

// BaseZIndex is the stacking level of an overlay anchored at the document
// root. Deeper anchors stack one level per ancestor.
const BaseZIndex = 251001

// ErrDegenerate is returned when a conversion would divide by a zero,
// negative or non-finite dimension.
var ErrDegenerate = errors.New("coord: degenerate dimensions")

// Metrics is a snapshot of the host page geometry.
type Metrics struct {
	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`
	DocWidth       float64 `json:"doc_width"`
	DocHeight      float64 `json:"doc_height"`
	ScrollX        float64 `json:"scroll_x"`
	ScrollY        float64 `json:"scroll_y"`
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func (m Metrics) convertible() bool {
	return usable(m.DocWidth) && usable(m.DocHeight) && usable(m.ViewportWidth) && usable(m.ViewportHeight)
}

// PxToResponsive expresses the position of r as a percentage of the
// document size and its size in viewport units.
func PxToResponsive(r annotation.Rect, m Metrics) (annotation.Responsive, error) {
	if !m.convertible() || !finite(r.Left, r.Top, r.Width, r.Height) {
		return annotation.Responsive{}, ErrDegenerate
	}
	return annotation.Responsive{
		LeftPct:  r.Left / m.DocWidth * 100,
		TopPct:   r.Top / m.DocHeight * 100,
		WidthVw:  r.Width / m.ViewportWidth * 100,
		HeightVw: r.Height / m.ViewportHeight * 100,
	}, nil
}

// ResponsiveToPx is the inverse of PxToResponsive for the current metrics.
func ResponsiveToPx(r annotation.Responsive, m Metrics) (annotation.Rect, error) {
	if !m.convertible() || !finite(r.LeftPct, r.TopPct, r.WidthVw, r.HeightVw) {
		return annotation.Rect{}, ErrDegenerate
	}
	return annotation.Rect{
		Left:   r.LeftPct / 100 * m.DocWidth,
		Top:    r.TopPct / 100 * m.DocHeight,
		Width:  r.WidthVw / 100 * m.ViewportWidth,
		Height: r.HeightVw / 100 * m.ViewportHeight,
	}, nil
}

// ClampToViewport bounds a document-coordinate point to the visible area,
// keeping a 2px margin on the far edges.
func ClampToViewport(x, y float64, m Metrics) (float64, float64) {
	return clamp(x, m.ScrollX, m.ScrollX+m.ViewportWidth-2),
		clamp(y, m.ScrollY, m.ScrollY+m.ViewportHeight-2)
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// DragRect returns the normalized rectangle spanned by a drag from
// (sx, sy) to (cx, cy), whatever the drag direction.
func DragRect(sx, sy, cx, cy float64) annotation.Rect {
	return annotation.Rect{
		Left:   math.Min(sx, cx),
		Top:    math.Min(sy, cy),
		Width:  math.Abs(cx - sx),
		Height: math.Abs(cy - sy),
	}
}

// Distance is the euclidean distance between two points.
func Distance(sx, sy, cx, cy float64) float64 {
	return math.Hypot(cx-sx, cy-sy)
}

// ZIndexForDepth returns BaseZIndex plus the number of element ancestors of
// n, so overlays of nested anchors stack above their parents'.
func ZIndexForDepth(n *html.Node) int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			depth++
		}
	}
	return BaseZIndex + depth
}
