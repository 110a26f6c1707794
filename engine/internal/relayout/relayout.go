// Package relayout coalesces the page signals that invalidate overlay
// positions (resize, scroll, DOM mutation) into single layout passes.
package relayout

import (
	"sync"
	"time"
)

// Reason names the signal that asked for a layout pass.
type Reason string

const (
	Resize   Reason = "resize"
	Scroll   Reason = "scroll"
	Mutation Reason = "mutation"
	Command  Reason = "command"
)

// Config controls the batching behaviour.
type Config struct {
	// Window is the quiet time before a pass runs. Default: 100ms.
	Window time.Duration `yaml:"window"`
	// MaxBuffer runs a pass immediately once this many signals are pending.
	// Default: 64.
	MaxBuffer int `yaml:"max_buffer"`
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 100 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 64
	}
}

// Batch is what one pass coalesced.
type Batch struct {
	Count   int
	Reasons map[Reason]int
}

// Debouncer runs flushFn once per burst of signals.
type Debouncer struct {
	cfg     Config
	flushFn func(Batch)

	in      chan Reason
	flushes chan chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New starts a Debouncer. Stop must be called to release it.
func New(cfg Config, flushFn func(Batch)) *Debouncer {
	cfg.defaults()
	d := &Debouncer{
		cfg:     cfg,
		flushFn: flushFn,
		in:      make(chan Reason, cfg.MaxBuffer),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Trigger records a signal. It is a no-op after Stop.
func (d *Debouncer) Trigger(r Reason) {
	select {
	case d.in <- r:
	case <-d.done:
	}
}

// Flush runs any pending pass now and returns once it has completed.
func (d *Debouncer) Flush() {
	ack := make(chan struct{})
	select {
	case d.flushes <- ack:
		<-ack
	case <-d.done:
	}
}

// Stop discards pending signals and waits for the loop to exit.
func (d *Debouncer) Stop() {
	d.once.Do(func() { close(d.done) })
	<-d.stopped
}

func (d *Debouncer) run() {
	defer close(d.stopped)
	var (
		pending = Batch{Reasons: make(map[Reason]int)}
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if pending.Count == 0 {
			return
		}
		b := pending
		pending = Batch{Reasons: make(map[Reason]int)}
		d.flushFn(b)
	}

	for {
		select {
		case r := <-d.in:
			pending.Count++
			pending.Reasons[r]++
			if pending.Count >= d.cfg.MaxBuffer {
				flush()
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.cfg.Window)
			timerC = timer.C
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		case ack := <-d.flushes:
			// Drain signals already queued so Flush covers them.
			for drained := false; !drained; {
				select {
				case r := <-d.in:
					pending.Count++
					pending.Reasons[r]++
				default:
					drained = true
				}
			}
			flush()
			close(ack)
		case <-d.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
