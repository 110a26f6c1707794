package thread

import (
	"slices"

	"github.com/hazyhaar/pagemark/annotation"
)

// mutation is one optimistic change. apply must be idempotent: it is replayed
// over newer store state after a failure or a rebase.
type mutation struct {
	apply func(*annotation.Annotation) error
}

// pending tracks an annotation with unsettled saves. base is the last state
// the store is known to hold; the Set always shows base with muts replayed.
type pending struct {
	base annotation.Annotation
	muts []*mutation
}

// mutate applies fn to the Set and records it as pending for id.
func (c *Controller) mutate(id string, fn func(*annotation.Annotation) error) (*mutation, error) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	var before annotation.Annotation
	_, err := c.cfg.Set.Update(id, func(a *annotation.Annotation) error {
		before = a.Clone()
		return fn(a)
	})
	if err != nil {
		return nil, err
	}
	p := c.pend[id]
	if p == nil {
		p = &pending{base: before}
		c.pend[id] = p
	}
	m := &mutation{apply: fn}
	p.muts = append(p.muts, m)
	return m, nil
}

// settle retires m. A save that landed moves the base to what was written; a
// failed one drops m and rebuilds the Set entry from the base and the
// mutations still queued, so later changes to the same field survive.
func (c *Controller) settle(id string, m *mutation, saved *annotation.Annotation) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	p := c.pend[id]
	if p == nil {
		return
	}
	if i := slices.Index(p.muts, m); i >= 0 {
		p.muts = slices.Delete(p.muts, i, i+1)
	}
	if saved != nil {
		p.base = saved.Clone()
	} else {
		merged := p.replay()
		c.cfg.Set.Update(id, func(a *annotation.Annotation) error {
			*a = merged
			return nil
		})
	}
	if len(p.muts) == 0 {
		delete(c.pend, id)
	}
}

func (p *pending) replay() annotation.Annotation {
	a := p.base.Clone()
	for _, m := range p.muts {
		_ = m.apply(&a)
	}
	return a
}

// Rebase replaces the Set with fresh store state. Annotations with saves in
// flight keep their queued changes on top of the new state; those missing
// from fetched are dropped and their queued saves fail.
func (c *Controller) Rebase(fetched []annotation.Annotation) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	out := make([]annotation.Annotation, 0, len(fetched))
	for _, a := range fetched {
		if p := c.pend[a.ID]; p != nil {
			p.base = a.Clone()
			a = p.replay()
		}
		out = append(out, a)
	}
	c.cfg.Set.Reset(out)
}

// Pending reports whether id has saves that have not settled.
func (c *Controller) Pending(id string) bool {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.pend[id] != nil
}
