package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Migration is one step of the history schema.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "scans and scan_fields",
		Up: `
CREATE TABLE IF NOT EXISTS scans (
    id          TEXT PRIMARY KEY,
    at_ns       INTEGER NOT NULL,
    strategy    TEXT NOT NULL,
    scanned     TEXT NOT NULL,
    linear      TEXT NOT NULL,
    gs1         TEXT
);
CREATE INDEX IF NOT EXISTS idx_scans_at ON scans(at_ns);

-- One row per segmented field, duplicates included, in input order.
CREATE TABLE IF NOT EXISTS scan_fields (
    scan_id     TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    ordinal     INTEGER NOT NULL,
    ai          TEXT NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY (scan_id, ordinal)
);`,
		Down: `
DROP TABLE IF EXISTS scan_fields;
DROP INDEX IF EXISTS idx_scans_at;
DROP TABLE IF EXISTS scans;`,
	},
	{
		Version:     2,
		Description: "index scan_fields by identifier and value",
		Up:          `CREATE INDEX IF NOT EXISTS idx_scan_fields_ai_value ON scan_fields(ai, value);`,
		Down:        `DROP INDEX IF EXISTS idx_scan_fields_ai_value;`,
	},
}

// ErrNothingToRollback is returned by RollbackMigration on an empty schema.
var ErrNothingToRollback = errors.New("store: no migration to roll back")

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// MigrateDB brings the schema up to the latest version. Each step runs in
// its own transaction, so a failure leaves the earlier steps applied.
func MigrateDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UnixNano(), m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// RollbackMigration undoes the most recent migration.
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current == 0 {
		return ErrNothingToRollback
	}
	m, ok := migrationFor(current)
	if !ok {
		return fmt.Errorf("schema version %d is newer than this binary", current)
	}
	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", m.Version, err)
	}
	return nil
}

func migrationFor(version int) (Migration, bool) {
	for _, m := range migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        []AppliedMigration
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// GetMigrationStatus compares schema_migrations against the known steps. A
// database that was never migrated reports every step as pending.
func GetMigrationStatus(ctx context.Context, db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: migrations[len(migrations)-1].Version}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at, description FROM schema_migrations ORDER BY version")
	if err != nil {
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var (
			am AppliedMigration
			ns int64
		)
		if err := rows.Scan(&am.Version, &ns, &am.Description); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		am.AppliedAt = time.Unix(0, ns)
		status.Applied = append(status.Applied, am)
		status.CurrentVersion = max(status.CurrentVersion, am.Version)
		done[am.Version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	for _, m := range migrations {
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that the history tables exist.
func ValidateSchema(ctx context.Context, db *sql.DB) error {
	var missing []string
	for _, table := range []string{"scans", "scan_fields", "schema_migrations"} {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables: %v", missing)
	}
	return nil
}
