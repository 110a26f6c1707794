package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pagemark/annotation"
)

// domainState is what Repo knows about one domain between calls.
type domainState struct {
	mu           sync.Mutex
	unauthorized bool
	lastErr      error
}

// Repo serves page-level reads and single-annotation writes over a Backend.
// Writes to one domain are serialized so that read-modify-replace cycles
// never interleave. A domain the backend refused stays refused until Reset.
type Repo struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// RepoOption configures a Repo.
type RepoOption func(*Repo)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RepoOption { return func(r *Repo) { r.logger = l } }

// NewRepo creates a Repo over b.
func NewRepo(b Backend, opts ...RepoOption) *Repo {
	r := &Repo{backend: b, logger: slog.Default(), domains: make(map[string]*domainState)}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repo) state(domain string) *domainState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.domains[domain]
	if !ok {
		st = &domainState{}
		r.domains[domain] = st
	}
	return st
}

// Fetch returns the annotations of the page at pageURL.
func (r *Repo) Fetch(ctx context.Context, pageURL string) ([]annotation.Annotation, error) {
	domain, path, err := annotation.Key(pageURL)
	if err != nil {
		return nil, fmt.Errorf("store: fetch: %w", err)
	}
	var out []annotation.Annotation
	err = r.withDomain(ctx, domain, func(rec *annotation.Record) (bool, error) {
		for _, a := range rec.Bucket(path) {
			out = append(out, a.Clone())
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: fetch %s: %w", pageURL, err)
	}
	return out, nil
}

// Record returns the whole record of domain.
func (r *Repo) Record(ctx context.Context, domain string) (*annotation.Record, error) {
	var out *annotation.Record
	err := r.withDomain(ctx, domain, func(rec *annotation.Record) (bool, error) {
		out = rec
		return false, nil
	})
	return out, err
}

// ReplaceAll validates rec and overwrites its domain.
func (r *Repo) ReplaceAll(ctx context.Context, rec *annotation.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("store: replace %s: %w", rec.Domain, err)
	}
	return r.withDomain(ctx, rec.Domain, func(cur *annotation.Record) (bool, error) {
		cur.Pages = rec.Pages
		return true, nil
	})
}

// Add stores a new annotation in its page bucket.
func (r *Repo) Add(ctx context.Context, a annotation.Annotation) error {
	return r.put(ctx, a, false)
}

// Update replaces an existing annotation.
func (r *Repo) Update(ctx context.Context, a annotation.Annotation) error {
	return r.put(ctx, a, true)
}

func (r *Repo) put(ctx context.Context, a annotation.Annotation, mustExist bool) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("store: put %s: %w", a.ID, err)
	}
	domain, path, err := annotation.Key(a.PageURL)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", a.ID, err)
	}
	err = r.withDomain(ctx, domain, func(rec *annotation.Record) (bool, error) {
		if mustExist {
			if _, at, ok := rec.Find(a.ID); !ok {
				return false, ErrNotFound
			} else if at != path {
				rec.Remove(a.ID)
			}
		}
		rec.Put(path, a.Clone())
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", a.ID, err)
	}
	return nil
}

// Delete removes a from its domain record, dropping its page bucket when
// it was the last one there. Deleting an absent annotation succeeds.
func (r *Repo) Delete(ctx context.Context, a annotation.Annotation) error {
	domain, _, err := annotation.Key(a.PageURL)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", a.ID, err)
	}
	err = r.withDomain(ctx, domain, func(rec *annotation.Record) (bool, error) {
		return rec.Remove(a.ID), nil
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", a.ID, err)
	}
	return nil
}

// Unauthorized reports whether domain is currently refused.
func (r *Repo) Unauthorized(domain string) bool {
	st := r.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.unauthorized
}

// LastError returns the last backend error seen for domain.
func (r *Repo) LastError(domain string) error {
	st := r.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastErr
}

// Reset forgets what is known about domain, or about every domain when
// domain is empty.
func (r *Repo) Reset(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if domain == "" {
		r.domains = make(map[string]*domainState)
		return
	}
	delete(r.domains, domain)
}

// withDomain loads the record of domain under its lock, runs fn, and writes
// the record back when fn reports a change.
func (r *Repo) withDomain(ctx context.Context, domain string, fn func(*annotation.Record) (bool, error)) error {
	st := r.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.unauthorized {
		return ErrUnauthorized
	}

	rec, err := r.backend.Load(ctx, domain)
	if err != nil {
		return r.record(st, domain, "load", err)
	}
	changed, err := fn(rec)
	if err != nil || !changed {
		return err
	}
	if err := r.backend.ReplaceAll(ctx, rec); err != nil {
		return r.record(st, domain, "replace", err)
	}
	st.lastErr = nil
	return nil
}

// record must be called with st.mu held.
func (r *Repo) record(st *domainState, domain, op string, err error) error {
	st.lastErr = err
	if errors.Is(err, ErrUnauthorized) {
		st.unauthorized = true
		r.logger.Warn("store: domain unauthorized", "domain", domain, "op", op)
	} else {
		r.logger.Warn("store: backend failed", "domain", domain, "op", op, "error", err)
	}
	return err
}
