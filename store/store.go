// Package store persists annotations as per-domain records. Every write
// sends the whole record for a domain (replace-all semantics); Repo layers
// page-level fetch and single-annotation mutations on top of a Backend.
package store

import (
	"context"
	"errors"

	"github.com/hazyhaar/pagemark/annotation"
)

var (
	// ErrUnauthorized means the backend refused access to the domain.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrNotFound means the annotation is not in its domain record.
	ErrNotFound = errors.New("store: annotation not found")
)

// Backend holds whole domain records.
type Backend interface {
	// Load returns the record of domain, empty when none is stored.
	Load(ctx context.Context, domain string) (*annotation.Record, error)
	// ReplaceAll overwrites the stored record with rec. A record with no
	// annotations removes the domain.
	ReplaceAll(ctx context.Context, rec *annotation.Record) error
}
