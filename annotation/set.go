package annotation

import (
	"errors"
	"sync"
)

// ErrUnknown is returned when an id is not in the Set.
var ErrUnknown = errors.New("annotation: unknown id")

// Set is the in-memory arena of a page's annotations, keyed by id and kept
// in insertion order. It is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	byID  map[string]*Annotation
	order []string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byID: make(map[string]*Annotation)}
}

// Put inserts or replaces a copy of a.
func (s *Set) Put(a Annotation) {
	c := a.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.byID[a.ID] = &c
}

// Get returns a copy of the annotation with id.
func (s *Set) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// Update runs fn on the stored annotation under the write lock and returns a
// copy of the result. fn must not call back into the Set.
func (s *Set) Update(id string, fn func(*Annotation) error) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Annotation{}, ErrUnknown
	}
	if err := fn(a); err != nil {
		return a.Clone(), err
	}
	return a.Clone(), nil
}

// Delete removes id and reports whether it was present.
func (s *Set) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of every annotation in insertion order.
func (s *Set) List() []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Len returns the number of annotations.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Reset replaces the contents with as.
func (s *Set) Reset(as []Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Annotation, len(as))
	s.order = s.order[:0]
	for _, a := range as {
		c := a.Clone()
		if _, dup := s.byID[a.ID]; !dup {
			s.order = append(s.order, a.ID)
		}
		s.byID[a.ID] = &c
	}
}
