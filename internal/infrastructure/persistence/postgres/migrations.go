package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE TOKEN TABLE
// ══════════════════════════════════════════════════════════════════════════════

// The table layout matches databases created by earlier releases of the bot,
// so the statements are idempotent.
const migration001Up = `
CREATE SCHEMA IF NOT EXISTS elearningbot;

CREATE TABLE IF NOT EXISTS elearningbot.token (
    user_id TEXT NOT NULL,
    token   TEXT NOT NULL
);
`

const migration001Down = `
DROP TABLE IF EXISTS elearningbot.token;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ONE TOKEN PER USER
// ══════════════════════════════════════════════════════════════════════════════

// Older databases may hold duplicate rows from concurrent registrations.
// The oldest row per user is kept before the unique index is built.
const migration002Up = `
DELETE FROM elearningbot.token a
USING elearningbot.token b
WHERE a.user_id = b.user_id
  AND a.ctid > b.ctid;

CREATE UNIQUE INDEX IF NOT EXISTS token_user_id_key ON elearningbot.token (user_id);
`

const migration002Down = `
DROP INDEX IF EXISTS elearningbot.token_user_id_key;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: REGISTRATION TIMESTAMP
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
ALTER TABLE elearningbot.token
    ADD COLUMN IF NOT EXISTS created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW();
`

const migration003Down = `
ALTER TABLE elearningbot.token DROP COLUMN IF EXISTS created_at;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations ordered by version.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_token", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "unique_token_user", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "token_created_at", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator applies embedded migrations and records them in
// elearningbot.schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	migrations := GetMigrations()
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	return &Migrator{
		conn:       conn,
		migrations: migrations,
		tableName:  "elearningbot.schema_migrations",
	}
}

// EnsureMigrationTable creates the schema and the tracking table if they don't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	if _, err := m.conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS elearningbot"); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns the applied versions and when they were applied.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}

			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}

	return count, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}

	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}

	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}

		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}
