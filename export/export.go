// Package export renders the annotations of a page as a review report, in
// HTML for browsers and in Markdown for issue trackers and MCP clients.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagemark/annotation"
)

// Report is the input of every renderer.
type Report struct {
	PageURL     string
	Generated   time.Time
	Annotations []annotation.Annotation
}

var fragmentTmpl = template.Must(template.New("fragment").Parse(`<article class="pagemark-report">
<h1>Annotations for {{.PageURL}}</h1>
<p class="summary">{{.Open}} open, {{.Resolved}} resolved{{if .Closed}}, {{.Closed}} closed{{end}}. Generated {{.Generated}}.</p>
{{range .Items}}<section class="annotation status-{{.Status}}" id="a-{{.ID}}">
<h2>Annotation {{.Number}}: {{.Title}}</h2>
<ul>
<li>Status: {{.Status}}</li>
<li>Anchor: <code>{{.Anchor}}</code></li>
<li>Viewport: {{.Viewport}}</li>
<li>Created: {{.Created}}</li>
</ul>
{{range .Comments}}<blockquote>
<p><strong>{{.Author}}</strong> ({{.When}}{{if .Edited}}, edited{{end}})</p>
<p>{{.Text}}</p>
</blockquote>
{{end}}</section>
{{else}}<p>No annotations.</p>
{{end}}</article>`))

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Annotations for {{.PageURL}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:52rem;margin:2rem auto;padding:0 1rem;color:#1c2024}
.annotation{border-left:4px solid #e5484d;padding:.25rem 1rem;margin:1.5rem 0}
.annotation.status-resolved{border-color:#30a46c}
.annotation.status-closed{border-color:#8b8d98}
blockquote{margin:.5rem 0;padding:.25rem .75rem;background:#f9f9fb;border-radius:4px}
code{font-size:.9em}
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

type commentItem struct {
	Author string
	When   string
	Edited bool
	Text   string
}

type item struct {
	Number   int
	ID       string
	Title    string
	Status   annotation.Status
	Anchor   string
	Viewport string
	Created  string
	Comments []commentItem
}

type fragmentData struct {
	PageURL   string
	Generated string
	Open      int
	Resolved  int
	Closed    int
	Items     []item
}

const stamp = "2006-01-02 15:04 UTC"

func newFragmentData(r Report) fragmentData {
	gen := r.Generated
	if gen.IsZero() {
		gen = time.Now()
	}
	d := fragmentData{PageURL: r.PageURL, Generated: gen.UTC().Format(stamp)}
	for i, a := range r.Annotations {
		switch a.Status {
		case annotation.StatusOpen:
			d.Open++
		case annotation.StatusResolved:
			d.Resolved++
		case annotation.StatusClosed:
			d.Closed++
		}
		it := item{
			Number:   i + 1,
			ID:       a.ID,
			Title:    title(a),
			Status:   a.Status,
			Anchor:   Anchor(a),
			Viewport: fmt.Sprintf("%s, %gx%g", a.Viewport.Category, a.Viewport.Width, a.Viewport.Height),
			Created:  time.UnixMilli(a.CreatedAt).UTC().Format(stamp),
		}
		for _, c := range a.Comments {
			name := c.Author.Name
			if name == "" {
				name = c.Author.ID
			}
			it.Comments = append(it.Comments, commentItem{
				Author: name,
				When:   time.UnixMilli(c.Timestamp).UTC().Format(stamp),
				Edited: c.Edited,
				Text:   c.Text,
			})
		}
		d.Items = append(d.Items, it)
	}
	return d
}

func title(a annotation.Annotation) string {
	if len(a.Comments) == 0 {
		return string(a.Kind)
	}
	t := []rune(a.Comments[0].Text)
	if len(t) > 60 {
		return string(t[:60]) + "..."
	}
	return string(t)
}

// Anchor describes where a is attached.
func Anchor(a annotation.Annotation) string {
	switch {
	case a.Kind == annotation.KindElement && a.Locator != nil:
		return a.Locator.String()
	case a.Kind == annotation.KindRegion && a.Region != nil:
		r := a.Region.Absolute
		return fmt.Sprintf("region %g,%g %gx%g", r.Left, r.Top, r.Width, r.Height)
	}
	return string(a.Kind)
}

// policy admits the markup the fragment template produces and nothing else
// a stored record could smuggle in.
var policy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("id").OnElements("section")
	return p
}()

// Fragment renders the sanitized report body.
func Fragment(r Report) (string, error) {
	var buf bytes.Buffer
	if err := fragmentTmpl.Execute(&buf, newFragmentData(r)); err != nil {
		return "", fmt.Errorf("export: render fragment: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// HTML writes a standalone HTML document.
func HTML(w io.Writer, r Report) error {
	body, err := Fragment(r)
	if err != nil {
		return err
	}
	err = pageTmpl.Execute(w, struct {
		PageURL string
		Body    template.HTML
	}{r.PageURL, template.HTML(body)})
	if err != nil {
		return fmt.Errorf("export: render page: %w", err)
	}
	return nil
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Markdown renders the report as CommonMark.
func Markdown(r Report) (string, error) {
	body, err := Fragment(r)
	if err != nil {
		return "", err
	}
	md, err := mdConverter.ConvertString(body, converter.WithDomain(r.PageURL))
	if err != nil {
		return "", fmt.Errorf("export: markdown: %w", err)
	}
	return md, nil
}
