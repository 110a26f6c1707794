package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_records (
	domain     TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS annotation_index (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL REFERENCES domain_records(domain) ON DELETE CASCADE,
	path       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	comments   INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotation_index_page ON annotation_index(domain, path);
`

// SQLite is a Backend storing each domain record as one JSON row, with a
// per-annotation index for summaries.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string, opts ...dbopen.Option) (*SQLite, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// NewSQLite uses an already open database, creating the tables if needed.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Load(ctx context.Context, domain string) (*annotation.Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM domain_records WHERE domain = ?`, domain).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return annotation.NewRecord(domain), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", domain, err)
	}
	rec := annotation.NewRecord(domain)
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", domain, err)
	}
	if rec.Pages == nil {
		rec.Pages = make(map[string][]annotation.Annotation)
	}
	return rec, nil
}

func (s *SQLite) ReplaceAll(ctx context.Context, rec *annotation.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("store: replace %s: %w", rec.Domain, err)
	}
	if rec.Count() == 0 {
		_, err := dbopen.Exec(ctx, s.db, `DELETE FROM domain_records WHERE domain = ?`, rec.Domain)
		if err != nil {
			return fmt.Errorf("store: clear %s: %w", rec.Domain, err)
		}
		return nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", rec.Domain, err)
	}
	now := s.now().UnixMilli()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO domain_records (domain, record, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(domain) DO UPDATE SET record = excluded.record, version = version + 1, updated_at = excluded.updated_at`,
			rec.Domain, string(raw), now); err != nil {
			return fmt.Errorf("store: upsert %s: %w", rec.Domain, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM annotation_index WHERE domain = ?`, rec.Domain); err != nil {
			return fmt.Errorf("store: clear index %s: %w", rec.Domain, err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO annotation_index (id, domain, path, kind, status, comments, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare index: %w", err)
		}
		defer stmt.Close()
		for path, bucket := range rec.Pages {
			for _, a := range bucket {
				if _, err := stmt.ExecContext(ctx, a.ID, rec.Domain, path, a.Kind, a.Status, len(a.Comments), a.CreatedAt); err != nil {
					return fmt.Errorf("store: index %s: %w", a.ID, err)
				}
			}
		}
		return nil
	})
}

// Version returns how many times domain has been written, 0 if never.
func (s *SQLite) Version(ctx context.Context, domain string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM domain_records WHERE domain = ?`, domain).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// PageSummary counts a page's annotations by status.
type PageSummary struct {
	Path     string `json:"path"`
	Open     int    `json:"open"`
	Resolved int    `json:"resolved"`
	Closed   int    `json:"closed"`
	Comments int    `json:"comments"`
}

// Summary returns per-page counts for domain, ordered by path.
func (s *SQLite) Summary(ctx context.Context, domain string) ([]PageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path,
		       SUM(status = 'open'), SUM(status = 'resolved'), SUM(status = 'closed'),
		       SUM(comments)
		FROM annotation_index WHERE domain = ?
		GROUP BY path ORDER BY path`, domain)
	if err != nil {
		return nil, fmt.Errorf("store: summary %s: %w", domain, err)
	}
	defer rows.Close()
	var out []PageSummary
	for rows.Next() {
		var p PageSummary
		if err := rows.Scan(&p.Path, &p.Open, &p.Resolved, &p.Closed, &p.Comments); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DB returns the underlying handle for tables that share the file.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
