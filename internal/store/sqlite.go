package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keywedge/internal/decode"
	"keywedge/internal/scanner"
)

// Store is the SQLite scan history.
type Store struct {
	db *sql.DB
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// Open opens or creates the database at path and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("?_foreign_keys=on&_busy_timeout=%d", o.busyTimeout.Milliseconds())
	if path == ":memory:" {
		dsn = "file::memory:" + dsn
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + dsn + "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := MigrateDB(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert records a scan with its fields.
func (s *Store) Insert(ctx context.Context, r *scanner.Result) error {
	if r == nil || r.Parsed == nil {
		return fmt.Errorf("insert scan: empty result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var gs1 sql.NullString
	if r.Parsed.Structured != nil {
		gs1 = sql.NullString{String: r.Parsed.Structured.GS1, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scans (id, at_ns, strategy, scanned, linear, gs1)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.At.UnixNano(), r.Strategy.String(), r.Scanned, r.Parsed.Linear, gs1,
	); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	if r.Parsed.Structured != nil && len(r.Parsed.Structured.Fields) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scan_fields (scan_id, ordinal, ai, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, f := range r.Parsed.Structured.Fields {
			if _, err := stmt.ExecContext(ctx, r.ID, i, f.AI, f.Value); err != nil {
				return fmt.Errorf("insert scan field: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const scanColumns = `id, at_ns, strategy, scanned, linear, gs1`

// Get retrieves a scan by ID.
func (s *Store) Get(ctx context.Context, id string) (*scanner.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	r, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	if err := s.loadFields(ctx, []*scanner.Result{r}); err != nil {
		return nil, err
	}
	return r, nil
}

// Recent returns the newest scans first.
func (s *Store) Recent(ctx context.Context, n int) ([]*scanner.Result, error) {
	return s.List(ctx, Query{Limit: n})
}

// List returns scans matching q, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]*scanner.Result, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "at_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "at_ns < ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Strategy != nil {
		where = append(where, "strategy = ?")
		args = append(args, q.Strategy.String())
	}
	if q.Structured {
		where = append(where, "gs1 IS NOT NULL")
	}

	query := `SELECT ` + scanColumns + ` FROM scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at_ns DESC, id LIMIT ?"
	args = append(args, limit(q.Limit))

	return s.query(ctx, query, args...)
}

// FindByField returns scans carrying ai with the given value, newest first.
func (s *Store) FindByField(ctx context.Context, ai, value string, n int) ([]*scanner.Result, error) {
	return s.query(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE id IN (SELECT scan_id FROM scan_fields WHERE ai = ? AND value = ?)
		ORDER BY at_ns DESC, id LIMIT ?`,
		ai, value, limit(n),
	)
}

// Prune deletes scans recorded before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune scans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Stats returns totals over the whole history.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStrategy: make(map[scanner.Strategy]int64)}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(gs1), MIN(at_ns), MAX(at_ns) FROM scans`,
	).Scan(&st.Total, &st.Structured, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("count scans: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64)
		st.Oldest = &t
	}
	if newest.Valid {
		t := time.Unix(0, newest.Int64)
		st.Newest = &t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT strategy, COUNT(*) FROM scans GROUP BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("count by strategy: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan strategy count: %w", err)
		}
		var strat scanner.Strategy
		if err := strat.UnmarshalText([]byte(name)); err != nil {
			return nil, fmt.Errorf("stored strategy: %w", err)
		}
		st.ByStrategy[strat] = n
	}
	return st, rows.Err()
}

func limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*scanner.Result, error) {
	var (
		r        scanner.Result
		atNs     int64
		strategy string
		linear   string
		gs1      sql.NullString
	)
	if err := row.Scan(&r.ID, &atNs, &strategy, &r.Scanned, &linear, &gs1); err != nil {
		return nil, err
	}
	if err := r.Strategy.UnmarshalText([]byte(strategy)); err != nil {
		return nil, fmt.Errorf("stored strategy: %w", err)
	}
	r.At = time.Unix(0, atNs)
	r.Parsed = &decode.Payload{Linear: linear}
	if gs1.Valid {
		r.Parsed.Structured = &decode.Structured{GS1: gs1.String}
	}
	return &r, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*scanner.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []*scanner.Result
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	rows.Close()

	if err := s.loadFields(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadFields fills Structured.Fields for results that have a GS1 string.
func (s *Store) loadFields(ctx context.Context, results []*scanner.Result) error {
	byID := make(map[string]*decode.Structured)
	var ids []any
	for _, r := range results {
		if r.Parsed.Structured != nil {
			byID[r.ID] = r.Parsed.Structured
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_id, ai, value FROM scan_fields
		WHERE scan_id IN (`+placeholders+`)
		ORDER BY scan_id, ordinal`, ids...)
	if err != nil {
		return fmt.Errorf("query scan fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var f decode.Field
		if err := rows.Scan(&id, &f.AI, &f.Value); err != nil {
			return fmt.Errorf("scan field: %w", err)
		}
		if st := byID[id]; st != nil {
			st.Fields = append(st.Fields, f)
		}
	}
	return rows.Err()
}
