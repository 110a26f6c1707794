package locator

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pagemark/annotation"
)

const page = `<!DOCTYPE html><html><head><title>t</title></head><body>
<main>
  <div class="card">one</div>
  <div class="card" data-testid="second">two<span>inner</span></div>
  <div class="card">three</div>
</main>
<section id="faq">
  <p>q1</p>
  <ul><li>a</li><li>b</li></ul>
</section>
<footer><p id="legal">legal</p></footer>
</body></html>`

func parse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func all(doc *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func TestBuild_SiblingIndex(t *testing.T) {
	doc := parse(t, page)
	second := all(doc, "div")[1]

	loc, err := Build(second)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "/html/body/main/div[2]"
	if got := loc.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if loc.Path[len(loc.Path)-1].Index != 2 {
		t.Errorf("leaf index = %d, want 2", loc.Path[len(loc.Path)-1].Index)
	}

	fresh := parse(t, page)
	got, ok := Resolve(fresh, loc)
	if !ok {
		t.Fatal("Resolve on fresh tree failed")
	}
	if got != all(fresh, "div")[1] {
		t.Error("Resolve returned the wrong div")
	}
}

func TestBuild_UniqueTagHasNoIndex(t *testing.T) {
	doc := parse(t, page)
	span := all(doc, "span")[0]
	loc, err := Build(span)
	if err != nil {
		t.Fatal(err)
	}
	if got := loc.String(); got != "/html/body/main/div[2]/span" {
		t.Errorf("String = %q", got)
	}
}

func TestBuild_OwnID(t *testing.T) {
	doc := parse(t, page)
	legal := all(doc, "p")[1]
	loc, err := Build(legal)
	if err != nil {
		t.Fatal(err)
	}
	if loc.ID != "legal" || len(loc.Path) != 0 {
		t.Errorf("locator = %+v, want id only", loc)
	}
	got, ok := Resolve(doc, loc)
	if !ok || got != legal {
		t.Error("Resolve by id failed")
	}
}

func TestBuild_StopsAtAncestorID(t *testing.T) {
	doc := parse(t, page)
	li := all(doc, "li")[1]
	loc, err := Build(li)
	if err != nil {
		t.Fatal(err)
	}
	if got := loc.String(); got != `id("faq")/ul/li[2]` {
		t.Errorf("String = %q", got)
	}
	got, ok := Resolve(doc, loc)
	if !ok || got != li {
		t.Error("Resolve through id anchor failed")
	}
}

func TestRoundTrip_AllElements(t *testing.T) {
	doc := parse(t, page)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			loc, err := Build(n)
			if err != nil {
				t.Fatalf("Build(%s): %v", n.Data, err)
			}
			got, ok := Resolve(doc, loc)
			if !ok || got != n {
				t.Errorf("Resolve(Build(%s)) = %v, %v (locator %s)", n.Data, got, ok, loc.String())
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

func TestResolve_NotFound(t *testing.T) {
	doc := parse(t, page)
	tests := []struct {
		name string
		loc  annotation.Locator
	}{
		{"empty", annotation.Locator{}},
		{"missing id", annotation.Locator{ID: "nope"}},
		{"index past end", annotation.Locator{Path: []annotation.Segment{{Tag: "html"}, {Tag: "body"}, {Tag: "main"}, {Tag: "div", Index: 4}}}},
		{"wrong tag", annotation.Locator{Path: []annotation.Segment{{Tag: "html"}, {Tag: "body"}, {Tag: "article"}}}},
		{"below id", annotation.Locator{ID: "faq", Path: []annotation.Segment{{Tag: "table"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n, ok := Resolve(doc, tt.loc); ok || n != nil {
				t.Errorf("Resolve = (%v, %v), want not found", n, ok)
			}
		})
	}
	if _, ok := Resolve(nil, annotation.Locator{ID: "x"}); ok {
		t.Error("Resolve(nil doc) succeeded")
	}
}

func TestResolve_Deterministic(t *testing.T) {
	doc := parse(t, page)
	loc, _ := Build(all(doc, "div")[2])
	first, _ := Resolve(doc, loc)
	for range 10 {
		if n, _ := Resolve(doc, loc); n != first {
			t.Fatal("Resolve is not deterministic")
		}
	}
}

func TestResolve_StructuralChange(t *testing.T) {
	doc := parse(t, page)
	loc, _ := Build(all(doc, "div")[2])

	changed := parse(t, strings.Replace(page, `<div class="card">three</div>`, "", 1))
	if _, ok := Resolve(changed, loc); ok {
		t.Error("locator resolved after its target was removed")
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Error("Build(nil) succeeded")
	}
	doc := parse(t, page)
	text := all(doc, "div")[0].FirstChild
	if _, err := Build(text); err == nil {
		t.Error("Build(text node) succeeded")
	}
	orphan := &html.Node{Type: html.ElementNode, Data: "div"}
	if _, err := Build(orphan); err != ErrDetached {
		t.Errorf("Build(orphan) = %v, want ErrDetached", err)
	}
}

func TestDrifted(t *testing.T) {
	doc := parse(t, page)
	second := all(doc, "div")[1]
	loc, _ := Build(second)
	if loc.Fallback["data-testid"] != "second" || loc.Fallback["class"] != "card" {
		t.Fatalf("Fallback = %v", loc.Fallback)
	}
	if Drifted(second, loc) {
		t.Error("unchanged element reported as drifted")
	}
	if !Drifted(all(doc, "div")[0], loc) {
		t.Error("different element not reported as drifted")
	}
}
