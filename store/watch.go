package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// WatchOptions tunes Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period a change must survive before the action
	// fires. 0 fires on the poll that saw it.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a SQLite store for writes, whichever process made them.
type Watcher struct {
	s    *SQLite
	opts WatchOptions

	token atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// Watch returns a Watcher over s. Call Run to start polling.
func (s *SQLite) Watch(opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{s: s, opts: opts}
}

// changeToken sums the per-domain write counters. Any ReplaceAll moves it.
func (s *SQLite) changeToken(ctx context.Context) (int64, error) {
	var sum, n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(version), 0), COUNT(*) FROM domain_records`).Scan(&sum, &n)
	if err != nil {
		return 0, fmt.Errorf("store: change token: %w", err)
	}
	return sum<<16 | n&0xffff, nil
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// Run blocks until ctx is cancelled. When the store changed and stayed
// unchanged for the debounce window, action runs. An action error leaves
// the change unacknowledged so the next poll retries it.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if tok, err := w.s.changeToken(ctx); err != nil {
		log.Warn("store: watch: initial check failed", "error", err)
	} else {
		w.token.Store(tok)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	pending := int64(-1)

	log.Debug("store: watch started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.s.changeToken(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.errors.Add(1)
				log.Warn("store: watch: check failed", "error", err)
				continue
			}
			if cur == w.token.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.apply(ctx, action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			fire = debounce.C

		case <-fire:
			fire = nil
			if pending >= 0 {
				w.apply(ctx, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) apply(ctx context.Context, action func(context.Context) error, tok int64) {
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Warn("store: watch: reload failed", "error", err)
		return
	}
	w.reloads.Add(1)
	w.token.Store(tok)
}
