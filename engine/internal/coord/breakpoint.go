package coord

import "github.com/hazyhaar/pagemark/annotation"

// Policy holds the breakpoint rules shared by creation (classification)
// and rendering (visibility).
type Policy struct {
	// Tolerance is how far the current width may drift from the captured
	// width before a non-desktop annotation is hidden. nil means 20; 0
	// requires the exact captured width.
	Tolerance *float64 `yaml:"tolerance"`
	// DesktopMinWidth is the narrowest viewport still considered desktop.
	// Default: 1140.
	DesktopMinWidth float64 `yaml:"desktop_min_width"`
	// TabletMinWidth is the narrowest viewport considered tablet.
	// Default: 768.
	TabletMinWidth float64 `yaml:"tablet_min_width"`
}

// DefaultPolicy returns the standard breakpoints.
func DefaultPolicy() Policy {
	return Policy{Tolerance: Width(DefaultTolerance), DesktopMinWidth: 1140, TabletMinWidth: 768}
}

// DefaultTolerance applies when Policy.Tolerance is unset.
const DefaultTolerance = 20

// Width returns a pointer to w, for Policy.Tolerance.
func Width(w float64) *float64 { return &w }

// Normalize fills unset fields with defaults. A negative tolerance counts as
// unset.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.Tolerance == nil || *p.Tolerance < 0 {
		p.Tolerance = d.Tolerance
	}
	if p.DesktopMinWidth <= 0 {
		p.DesktopMinWidth = d.DesktopMinWidth
	}
	if p.TabletMinWidth <= 0 {
		p.TabletMinWidth = d.TabletMinWidth
	}
	return p
}

// ShouldShow reports whether an annotation captured in v is shown at the
// current viewport width. Desktop annotations show on any desktop-width
// viewport; everything else needs the width to be within Tolerance of the
// captured one.
func (p Policy) ShouldShow(v annotation.Viewport, width float64) bool {
	if v.Category == annotation.CategoryDesktop && width >= p.DesktopMinWidth {
		return true
	}
	d, tol := width-v.Width, p.tolerance()
	return d <= tol && d >= -tol
}

func (p Policy) tolerance() float64 {
	if p.Tolerance == nil {
		return DefaultTolerance
	}
	return *p.Tolerance
}

// Category classifies a viewport width.
func (p Policy) Category(width float64) annotation.Category {
	switch {
	case width >= p.DesktopMinWidth:
		return annotation.CategoryDesktop
	case width >= p.TabletMinWidth:
		return annotation.CategoryTablet
	default:
		return annotation.CategoryMobile
	}
}
