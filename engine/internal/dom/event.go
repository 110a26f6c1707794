package dom

import (
	"sync"

	"golang.org/x/net/html"
)

// EventType names a pointer event.
type EventType string

const (
	PointerDown EventType = "pointerdown"
	PointerMove EventType = "pointermove"
	PointerUp   EventType = "pointerup"
	PointerOver EventType = "pointerover"
	PointerOut  EventType = "pointerout"
	Click       EventType = "click"
)

// Event is a pointer event in viewport (client) coordinates.
type Event struct {
	Type    EventType
	ClientX float64
	ClientY float64
	Target  *html.Node

	defaultPrevented   bool
	propagationStopped bool
}

func (e *Event) PreventDefault()          { e.defaultPrevented = true }
func (e *Event) StopPropagation()         { e.propagationStopped = true }
func (e *Event) DefaultPrevented() bool   { return e.defaultPrevented }
func (e *Event) PropagationStopped() bool { return e.propagationStopped }

// Listener handles one event.
type Listener func(*Event)

type registration struct {
	id      uint64
	typ     EventType
	capture bool
	fn      Listener
}

// Listeners is a registry of event listeners with capture/bubble ordering.
// Page implementations embed it to satisfy Listen.
type Listeners struct {
	mu   sync.Mutex
	next uint64
	regs []registration
}

// Listen registers fn and returns its removal func. Removing twice is a
// no-op.
func (l *Listeners) Listen(typ EventType, capture bool, fn Listener) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.regs = append(l.regs, registration{id: id, typ: typ, capture: capture, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, r := range l.regs {
				if r.id == id {
					l.regs = append(l.regs[:i], l.regs[i+1:]...)
					return
				}
			}
		})
	}
}

// Count returns the number of listeners registered for typ.
func (l *Listeners) Count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.regs {
		if r.typ == typ {
			n++
		}
	}
	return n
}

// Total returns the number of registered listeners.
func (l *Listeners) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regs)
}

// Dispatch delivers ev to capture listeners, then bubble listeners, in
// registration order, stopping once propagation is stopped. Listeners may
// register or remove listeners while being called.
func (l *Listeners) Dispatch(ev *Event) *Event {
	l.mu.Lock()
	snapshot := append([]registration(nil), l.regs...)
	l.mu.Unlock()

	for _, phase := range []bool{true, false} {
		for _, r := range snapshot {
			if r.typ != ev.Type || r.capture != phase {
				continue
			}
			if !l.alive(r.id) {
				continue
			}
			r.fn(ev)
			if ev.propagationStopped {
				return ev
			}
		}
	}
	return ev
}

func (l *Listeners) alive(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.regs {
		if r.id == id {
			return true
		}
	}
	return false
}
