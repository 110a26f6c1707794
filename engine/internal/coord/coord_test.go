package coord

import (
	"errors"
	"math"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
)

var desktop = Metrics{ViewportWidth: 1440, ViewportHeight: 900, DocWidth: 1440, DocHeight: 4200}

func near(a, b float64) bool { return math.Abs(a-b) <= 0.01 }

func TestPxToResponsive(t *testing.T) {
	got, err := PxToResponsive(annotation.Rect{Left: 144, Top: 420, Width: 72, Height: 90}, desktop)
	if err != nil {
		t.Fatalf("PxToResponsive: %v", err)
	}
	want := annotation.Responsive{LeftPct: 10, TopPct: 10, WidthVw: 5, HeightVw: 10}
	if !near(got.LeftPct, want.LeftPct) || !near(got.TopPct, want.TopPct) ||
		!near(got.WidthVw, want.WidthVw) || !near(got.HeightVw, want.HeightVw) {
		t.Errorf("PxToResponsive = %+v, want %+v", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	rects := []annotation.Rect{
		{Left: 0, Top: 0, Width: 0, Height: 0},
		{Left: 12.5, Top: 3981.25, Width: 333.3, Height: 17},
		{Left: 1439, Top: 1, Width: 1, Height: 899},
	}
	metrics := []Metrics{
		desktop,
		{ViewportWidth: 375, ViewportHeight: 667, DocWidth: 375, DocHeight: 9000},
		{ViewportWidth: 1013, ViewportHeight: 701, DocWidth: 1999, DocHeight: 3333},
	}
	for _, m := range metrics {
		for _, r := range rects {
			cur := r
			for range 50 {
				resp, err := PxToResponsive(cur, m)
				if err != nil {
					t.Fatalf("PxToResponsive(%+v): %v", cur, err)
				}
				cur, err = ResponsiveToPx(resp, m)
				if err != nil {
					t.Fatalf("ResponsiveToPx: %v", err)
				}
			}
			if !near(cur.Left, r.Left) || !near(cur.Top, r.Top) || !near(cur.Width, r.Width) || !near(cur.Height, r.Height) {
				t.Errorf("round trip drifted: %+v -> %+v", r, cur)
			}
		}
	}
}

func TestConversionGuards(t *testing.T) {
	bad := []Metrics{
		{},
		{ViewportWidth: 1440, ViewportHeight: 900, DocWidth: 0, DocHeight: 100},
		{ViewportWidth: 1440, ViewportHeight: 900, DocWidth: 100, DocHeight: 0},
		{ViewportWidth: 0, ViewportHeight: 900, DocWidth: 100, DocHeight: 100},
		{ViewportWidth: math.Inf(1), ViewportHeight: 900, DocWidth: 100, DocHeight: 100},
		{ViewportWidth: 1440, ViewportHeight: math.NaN(), DocWidth: 100, DocHeight: 100},
	}
	for _, m := range bad {
		if _, err := PxToResponsive(annotation.Rect{Width: 10, Height: 10}, m); !errors.Is(err, ErrDegenerate) {
			t.Errorf("PxToResponsive(%+v): got %v, want ErrDegenerate", m, err)
		}
		if _, err := ResponsiveToPx(annotation.Responsive{WidthVw: 1}, m); !errors.Is(err, ErrDegenerate) {
			t.Errorf("ResponsiveToPx(%+v): got %v, want ErrDegenerate", m, err)
		}
	}
	if _, err := PxToResponsive(annotation.Rect{Left: math.NaN()}, desktop); !errors.Is(err, ErrDegenerate) {
		t.Errorf("NaN input: got %v, want ErrDegenerate", err)
	}
}

func TestClampToViewport(t *testing.T) {
	m := Metrics{ViewportWidth: 800, ViewportHeight: 600, ScrollX: 10, ScrollY: 1000}
	tests := []struct {
		x, y   float64
		wx, wy float64
	}{
		{50, 1200, 50, 1200},
		{0, 0, 10, 1000},
		{5000, 5000, 808, 1598},
		{808, 1598, 808, 1598},
	}
	for _, tt := range tests {
		x, y := ClampToViewport(tt.x, tt.y, m)
		if x != tt.wx || y != tt.wy {
			t.Errorf("ClampToViewport(%v, %v) = (%v, %v), want (%v, %v)", tt.x, tt.y, x, y, tt.wx, tt.wy)
		}
	}
}

func TestDragRect(t *testing.T) {
	tests := []struct {
		sx, sy, cx, cy float64
		want           annotation.Rect
	}{
		{100, 100, 150, 130, annotation.Rect{Left: 100, Top: 100, Width: 50, Height: 30}},
		{150, 130, 100, 100, annotation.Rect{Left: 100, Top: 100, Width: 50, Height: 30}},
		{100, 100, 100, 108, annotation.Rect{Left: 100, Top: 100, Width: 0, Height: 8}},
		{7, 7, 7, 7, annotation.Rect{Left: 7, Top: 7}},
	}
	for _, tt := range tests {
		if got := DragRect(tt.sx, tt.sy, tt.cx, tt.cy); got != tt.want {
			t.Errorf("DragRect(%v,%v,%v,%v) = %+v, want %+v", tt.sx, tt.sy, tt.cx, tt.cy, got, tt.want)
		}
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(100, 100, 104, 101); d >= 5 {
		t.Errorf("Distance = %v, want < 5", d)
	}
	if d := Distance(0, 0, 3, 4); d != 5 {
		t.Errorf("Distance = %v, want 5", d)
	}
}

func TestShouldShow(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name  string
		v     annotation.Viewport
		width float64
		want  bool
	}{
		{"desktop rule", annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280}, 1300, true},
		{"desktop on wide", annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280}, 2560, true},
		{"desktop below min", annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280}, 1100, false},
		{"within tolerance", annotation.Viewport{Category: annotation.CategoryTablet, Width: 1000}, 1015, true},
		{"tolerance edge", annotation.Viewport{Category: annotation.CategoryTablet, Width: 1000}, 980, true},
		{"out of tolerance", annotation.Viewport{Category: annotation.CategoryTablet, Width: 1000}, 1100, false},
		{"mobile never desktop", annotation.Viewport{Category: annotation.CategoryMobile, Width: 375}, 1440, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldShow(tt.v, tt.width); got != tt.want {
				t.Errorf("ShouldShow(%+v, %v) = %v, want %v", tt.v, tt.width, got, tt.want)
			}
		})
	}
}

func TestShouldShow_Configurable(t *testing.T) {
	p := Policy{Tolerance: Width(100), DesktopMinWidth: 1600}.Normalize()
	if !p.ShouldShow(annotation.Viewport{Width: 1000}, 1100) {
		t.Error("tolerance 100 should admit 1100 for 1000")
	}
	if p.ShouldShow(annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280}, 1500) {
		t.Error("desktop min 1600 should reject 1500")
	}
	if p.TabletMinWidth != 768 {
		t.Errorf("Normalize TabletMinWidth = %v, want 768", p.TabletMinWidth)
	}
}

func TestShouldShow_ExactWidth(t *testing.T) {
	p := Policy{Tolerance: Width(0)}.Normalize()
	v := annotation.Viewport{Category: annotation.CategoryTablet, Width: 1000}
	if !p.ShouldShow(v, 1000) {
		t.Error("tolerance 0 should admit the captured width")
	}
	if p.ShouldShow(v, 1001) || p.ShouldShow(v, 999) {
		t.Error("tolerance 0 should reject any other width")
	}

	if got := *(Policy{}.Normalize().Tolerance); got != DefaultTolerance {
		t.Errorf("unset tolerance = %v, want %v", got, DefaultTolerance)
	}
	if !(Policy{}).ShouldShow(v, 1020) {
		t.Error("unnormalized policy should use the default tolerance")
	}
}

func TestCategory(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		width float64
		want  annotation.Category
	}{
		{320, annotation.CategoryMobile},
		{767, annotation.CategoryMobile},
		{768, annotation.CategoryTablet},
		{1139, annotation.CategoryTablet},
		{1140, annotation.CategoryDesktop},
	}
	for _, tt := range tests {
		if got := p.Category(tt.width); got != tt.want {
			t.Errorf("Category(%v) = %s, want %s", tt.width, got, tt.want)
		}
	}
}

func TestZIndexForDepth(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body><div><p><span>x</span></p></div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	var span *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "span" {
			span = n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	// html, body, div, p
	if got := ZIndexForDepth(span); got != BaseZIndex+4 {
		t.Errorf("ZIndexForDepth(span) = %d, want %d", got, BaseZIndex+4)
	}
	if got := ZIndexForDepth(span.Parent); got <= BaseZIndex || got >= ZIndexForDepth(span) {
		t.Errorf("parent z-index %d should sit between base and child", got)
	}
}
