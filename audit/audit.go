// Package audit keeps the trail of record writes accepted or refused by the
// hub. Entries are buffered and flushed to SQLite in batches.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagemark/dbopen"
	"github.com/hazyhaar/pagemark/idgen"
)

// Schema creates the audit table. New applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	domain        TEXT NOT NULL,
	operation     TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	annotations   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_domain ON audit_log(domain, timestamp DESC);
`

// Entry statuses.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Entry is one write attempt.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Domain      string    `json:"domain"`
	Operation   string    `json:"operation"`
	UserID      string    `json:"user_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Annotations int       `json:"annotations"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Domain string
	Status string
	Since  time.Time
	Limit  int // default 100
}

// Logger persists entries asynchronously.
type Logger struct {
	db       *sql.DB
	newID    idgen.Generator
	now      func() time.Time
	logger   *slog.Logger
	interval time.Duration
	batch    int

	ch   chan *Entry
	stop chan struct{}
	done chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDs sets the entry id generator.
func WithIDs(gen idgen.Generator) Option { return func(l *Logger) { l.newID = gen } }

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option { return func(l *Logger) { l.now = now } }

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Logger) { l.logger = lg } }

// WithFlushInterval sets how often buffered entries are written. Default: 5s.
func WithFlushInterval(d time.Duration) Option { return func(l *Logger) { l.interval = d } }

// WithBuffer sets the queue size. A full queue falls back to a synchronous
// insert. Default: 1000.
func WithBuffer(n int) Option {
	return func(l *Logger) { l.ch = make(chan *Entry, n) }
}

// New applies Schema to db and starts the flush loop.
func New(db *sql.DB, opts ...Option) (*Logger, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	l := &Logger{
		db:       db,
		newID:    idgen.Prefixed("audit_", idgen.Default),
		now:      time.Now,
		logger:   slog.Default(),
		interval: 5 * time.Second,
		batch:    100,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.ch == nil {
		l.ch = make(chan *Entry, 1000)
	}
	go l.flushLoop()
	return l, nil
}

// Log inserts e synchronously.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	l.fill(e)
	return l.insert(ctx, e)
}

// LogAsync queues e for the next flush.
func (l *Logger) LogAsync(e *Entry) {
	l.fill(e)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit: buffer full, sync fallback", "domain", e.Domain)
		if err := l.insert(context.Background(), e); err != nil {
			l.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Query returns matching entries, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT entry_id, timestamp, domain, operation, user_id, request_id,
		annotations, status, error_message, duration_ms
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Domain != "" {
		q += " AND domain = ?"
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Domain, &e.Operation, &e.UserID, &e.RequestID,
			&e.Annotations, &e.Status, &e.Error, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retention.
func (l *Logger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := l.now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, l.db, `DELETE FROM audit_log WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes what is queued and stops the loop.
func (l *Logger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *Logger) fill(e *Entry) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

const insertEntry = `INSERT INTO audit_log
	(entry_id, timestamp, domain, operation, user_id, request_id,
	 annotations, status, error_message, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?)`

func entryArgs(e *Entry) []any {
	return []any{e.ID, e.Timestamp.UnixMilli(), e.Domain, e.Operation, e.UserID, e.RequestID,
		e.Annotations, e.Status, e.Error, e.DurationMs}
}

func (l *Logger) insert(ctx context.Context, e *Entry) error {
	if _, err := dbopen.Exec(ctx, l.db, insertEntry, entryArgs(e)...); err != nil {
		return fmt.Errorf("audit: insert %s: %w", e.ID, err)
	}
	return nil
}

func (l *Logger) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertEntry)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, entryArgs(e)...); err != nil {
				return fmt.Errorf("insert %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Error("audit: flush failed", "entries", len(batch), "error", err)
	}
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, l.batch)

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					l.flush(batch)
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.batch {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			l.flush(batch)
			batch = batch[:0]
		}
	}
}
