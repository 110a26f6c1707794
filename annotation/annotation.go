// Package annotation defines the persisted data model shared by the engine,
// the store and the sync hub: annotations anchored to page elements or
// rectangular regions, their comment threads, and the per-domain record that
// groups them by page path.
package annotation

import (
	"fmt"
	"strings"
)

// Kind distinguishes element-anchored from region-anchored annotations.
type Kind string

const (
	KindElement Kind = "element"
	KindRegion  Kind = "region"
)

// Status is the lifecycle state of an annotation. Closed is accepted on the
// wire but has no rendering rule.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Category is the coarse viewport class captured at creation time.
type Category string

const (
	CategoryDesktop Category = "desktop"
	CategoryTablet  Category = "tablet"
	CategoryMobile  Category = "mobile"
)

// Viewport records the viewport an annotation was created in.
type Viewport struct {
	Category Category `json:"category" validate:"required,oneof=desktop tablet mobile"`
	Width    float64  `json:"width" validate:"gte=0"`
	Height   float64  `json:"height" validate:"gte=0"`
}

// Segment is one step of a structural locator path. Index is the 1-based
// position among same-tag element siblings, or 0 when the tag is unique
// under its parent.
type Segment struct {
	Tag   string `json:"tag" validate:"required"`
	Index int    `json:"index,omitempty" validate:"gte=0"`
}

// Locator identifies an element by an optional id anchor followed by a
// root-to-leaf structural path below it. An empty ID means the path starts
// at the document root.
type Locator struct {
	ID       string            `json:"id,omitempty"`
	Path     []Segment         `json:"path,omitempty" validate:"dive"`
	Fallback map[string]string `json:"fallback,omitempty"`
}

// Empty reports whether the locator carries no anchor at all.
func (l Locator) Empty() bool {
	return l.ID == "" && len(l.Path) == 0
}

// String renders the locator for logs and reports, e.g. id("faq")/ul/li[2]
// or /html/body/main/div[2].
func (l Locator) String() string {
	var b strings.Builder
	if l.ID != "" {
		fmt.Fprintf(&b, "id(%q)", l.ID)
	}
	for _, s := range l.Path {
		b.WriteByte('/')
		b.WriteString(s.Tag)
		if s.Index > 0 {
			fmt.Fprintf(&b, "[%d]", s.Index)
		}
	}
	return b.String()
}

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// Right returns the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Responsive expresses a region relative to the document width and the
// viewport width so it survives reflow across window sizes.
type Responsive struct {
	LeftPct  float64 `json:"left_pct"`
	TopPct   float64 `json:"top_pct"`
	WidthVw  float64 `json:"width_vw" validate:"gte=0"`
	HeightVw float64 `json:"height_vw" validate:"gte=0"`
}

// Region is the anchor of a region annotation. Absolute holds document
// coordinates captured at creation together with the viewport and scroll in
// effect; Responsive is preferred whenever present.
type Region struct {
	Absolute       Rect        `json:"absolute"`
	ViewportWidth  float64     `json:"viewport_width" validate:"gte=0"`
	ViewportHeight float64     `json:"viewport_height" validate:"gte=0"`
	ScrollX        float64     `json:"scroll_x"`
	ScrollY        float64     `json:"scroll_y"`
	Responsive     *Responsive `json:"responsive,omitempty"`
}

// Annotation is one anchored comment thread.
type Annotation struct {
	ID        string    `json:"id" validate:"required,uuid4"`
	Kind      Kind      `json:"kind" validate:"required,oneof=element region"`
	CreatedAt int64     `json:"created_at" validate:"gt=0"`
	PageURL   string    `json:"page_url" validate:"required,url"`
	Viewport  Viewport  `json:"viewport"`
	Status    Status    `json:"status" validate:"required,oneof=open resolved closed"`
	Locator   *Locator  `json:"locator,omitempty"`
	Region    *Region   `json:"region,omitempty"`
	Comments  []Comment `json:"comments" validate:"min=1,dive"`
}

// Clone returns a deep copy.
func (a Annotation) Clone() Annotation {
	c := a
	if a.Locator != nil {
		l := *a.Locator
		l.Path = append([]Segment(nil), a.Locator.Path...)
		if a.Locator.Fallback != nil {
			l.Fallback = make(map[string]string, len(a.Locator.Fallback))
			for k, v := range a.Locator.Fallback {
				l.Fallback[k] = v
			}
		}
		c.Locator = &l
	}
	if a.Region != nil {
		r := *a.Region
		if a.Region.Responsive != nil {
			resp := *a.Region.Responsive
			r.Responsive = &resp
		}
		c.Region = &r
	}
	c.Comments = make([]Comment, len(a.Comments))
	for i, cm := range a.Comments {
		c.Comments[i] = cm.Clone()
	}
	return c
}

// CommentIndex returns the position of the comment with the given id, or -1.
func (a *Annotation) CommentIndex(id string) int {
	for i := range a.Comments {
		if a.Comments[i].ID == id {
			return i
		}
	}
	return -1
}
