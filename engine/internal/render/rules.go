package render

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/pagemark/annotation"
)

const (
	layerID      = "pagemark-layer"
	classLayer   = "pagemark-layer"
	classOverlay = "pagemark-overlay"
	classVisible = "pm-visible"

	flagAll      = "pm-show-all"
	flagOpen     = "pm-draw-open"
	flagResolved = "pm-draw-resolved"
)

func statusClass(s annotation.Status) string {
	return "pm-status-" + string(s)
}

// rule shows overlays carrying status while the layer carries flag. Closed
// has no rule and is never shown.
type rule struct {
	flag   string
	status annotation.Status
}

var rules = []rule{
	{flag: flagOpen, status: annotation.StatusOpen},
	{flag: flagResolved, status: annotation.StatusResolved},
}

var stateClasses = []string{
	classVisible,
	statusClass(annotation.StatusOpen),
	statusClass(annotation.StatusResolved),
	statusClass(annotation.StatusClosed),
}

// Visibility is the set of layer flags.
type Visibility struct {
	All      bool `json:"all" yaml:"all"`
	Open     bool `json:"open" yaml:"open"`
	Resolved bool `json:"resolved" yaml:"resolved"`
}

// AllOn shows every status that has a rule.
func AllOn() Visibility { return Visibility{All: true, Open: true, Resolved: true} }

func (v Visibility) classes() map[string]bool {
	return map[string]bool{
		classLayer:   true,
		flagAll:      v.All,
		flagOpen:     v.Open,
		flagResolved: v.Resolved,
	}
}

// shown evaluates the rule table the same way the generated stylesheet
// does: the layer must carry flagAll and a rule's flag, the overlay must be
// visible and carry that rule's status class.
func shown(layer, overlay map[string]bool) bool {
	if !layer[flagAll] || !overlay[classVisible] {
		return false
	}
	for _, r := range rules {
		if layer[r.flag] && overlay[statusClass(r.status)] {
			return true
		}
	}
	return false
}

var colors = map[annotation.Status]string{
	annotation.StatusOpen:     "#e5484d",
	annotation.StatusResolved: "#30a46c",
}

// Stylesheet returns the CSS driving overlay display from the rule table.
func Stylesheet() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s{position:absolute;top:0;left:0;width:0;height:0;overflow:visible;pointer-events:none}", layerID)
	fmt.Fprintf(&b, ".%s{display:none;position:absolute;box-sizing:border-box;border:2px solid;cursor:pointer;pointer-events:auto}", classOverlay)
	for _, r := range rules {
		fmt.Fprintf(&b, ".%s.%s{border-color:%s}", classOverlay, statusClass(r.status), colors[r.status])
	}
	for _, r := range rules {
		fmt.Fprintf(&b, ".%s.%s.%s .%s.%s.%s{display:block}",
			classLayer, flagAll, r.flag, classOverlay, classVisible, statusClass(r.status))
	}
	return b.String()
}
