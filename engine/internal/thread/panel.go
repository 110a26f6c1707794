package thread

import (
	"bytes"
	"html/template"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
)

const panelTmpl = `{{define "panel"}}<div class="pagemark-backdrop" data-pagemark-action="close"></div>
<section class="pagemark-panel pm-status-{{.Status}}" role="dialog" aria-label="Annotation thread" data-pagemark-thread="{{.ID}}">
<header><span class="pm-kind">{{.Kind}}</span> <span class="pm-status">{{.Status}}</span>
<button type="button" data-pagemark-action="close" aria-label="Close">&times;</button></header>
<div id="pagemark-comments">{{template "comments" .}}</div>
<form class="pm-reply" data-pagemark-action="reply">
<textarea name="text" maxlength="{{.MaxLen}}" placeholder="Reply" autofocus></textarea>
<button type="submit">Reply</button>
</form>
<footer>
<button type="button" data-pagemark-action="toggle">{{if eq .Status "resolved"}}Reopen{{else}}Resolve{{end}}</button>
<button type="button" data-pagemark-action="delete" class="pm-danger">Delete</button>
</footer>
</section>{{end}}
{{define "comments"}}{{if .Failure}}<p class="pm-error" role="alert">{{.Failure}}</p>{{end}}
<ol class="pm-comments" data-scroll="end">{{range .Comments}}
<li data-pagemark-comment="{{.ID}}"><span class="pm-author">{{.Author}}</span> <time datetime="{{.When}}">{{.When}}</time>{{if .Edited}} <span class="pm-edited">(edited)</span>{{end}}
<p>{{.Text}}</p>
<details class="pm-edit"><summary>Edit</summary>
<form data-pagemark-action="edit" data-pagemark-comment="{{.ID}}">
<textarea name="text" maxlength="{{$.MaxLen}}">{{.Text}}</textarea>
<button type="submit">Save</button>
</form></details>
{{if .Deletable}}<button type="button" data-pagemark-action="delete-comment" data-pagemark-comment="{{.ID}}">Delete</button>{{end}}</li>{{end}}
</ol>{{end}}
{{define "compose"}}<div class="pagemark-backdrop" data-pagemark-action="cancel"></div>
<section class="pagemark-panel pm-compose" role="dialog" aria-label="New annotation">
<header><span class="pm-kind">{{.Kind}}</span> New annotation
<button type="button" data-pagemark-action="cancel" aria-label="Close">&times;</button></header>
{{if .Failure}}<p class="pm-error" role="alert">{{.Failure}}</p>{{end}}
<form class="pm-reply" data-pagemark-action="create">
<textarea name="text" maxlength="{{.MaxLen}}" placeholder="Describe the problem" autofocus></textarea>
<button type="submit">Save</button>
</form>
</section>{{end}}`

var templates = template.Must(template.New("thread").Parse(panelTmpl))

type commentView struct {
	ID        string
	Author    string
	When      string
	Text      string
	Edited    bool
	Deletable bool
}

type panelView struct {
	ID       string
	Kind     annotation.Kind
	Status   annotation.Status
	MaxLen   int
	Failure  string
	Comments []commentView
}

func newPanelView(a annotation.Annotation, failure string) panelView {
	v := panelView{
		ID:       a.ID,
		Kind:     a.Kind,
		Status:   a.Status,
		MaxLen:   annotation.MaxCommentLen,
		Failure:  failure,
		Comments: make([]commentView, 0, len(a.Comments)),
	}
	for _, c := range a.Comments {
		name := c.Author.Name
		if name == "" {
			name = c.Author.ID
		}
		v.Comments = append(v.Comments, commentView{
			ID:        c.ID,
			Author:    name,
			When:      time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339),
			Text:      c.Text,
			Edited:    c.Edited,
			Deletable: len(a.Comments) > 1,
		})
	}
	return v
}

// PanelMarkup renders the full thread panel for a.
func PanelMarkup(a annotation.Annotation, failure string) (string, error) {
	return execute("panel", newPanelView(a, failure))
}

// CommentsMarkup renders only the comment list of a.
func CommentsMarkup(a annotation.Annotation, failure string) (string, error) {
	return execute("comments", newPanelView(a, failure))
}

// ComposeMarkup renders the form that collects the first comment of a new
// annotation.
func ComposeMarkup(kind annotation.Kind, failure string) (string, error) {
	return execute("compose", panelView{Kind: kind, MaxLen: annotation.MaxCommentLen, Failure: failure})
}

func execute(name string, v panelView) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
