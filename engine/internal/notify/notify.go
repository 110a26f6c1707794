// Package notify delivers the engine's outbound notifications: an
// annotation was added to, or deleted from, the page.
package notify

import (
	"context"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/idgen"
)

// Type is the kind of notification.
type Type string

const (
	Added   Type = "added"
	Deleted Type = "deleted"
)

// Event is one notification.
type Event struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	AnnotationID string            `json:"annotation_id"`
	PageURL      string            `json:"page_url"`
	Status       annotation.Status `json:"status,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}

// NewEvent builds an event for a, stamped now.
func NewEvent(ids idgen.Generator, typ Type, a annotation.Annotation, now time.Time) Event {
	return Event{
		ID:           ids(),
		Type:         typ,
		AnnotationID: a.ID,
		PageURL:      a.PageURL,
		Status:       a.Status,
		Timestamp:    now.UnixMilli(),
	}
}

// Sink is an output backend for events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// envelope is the wire form shared by the JSON sinks:
//
//	{"type":"annotation_added","data":{...}}
type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

func wrap(ev Event) envelope {
	return envelope{Type: "annotation_" + string(ev.Type), Data: ev}
}
