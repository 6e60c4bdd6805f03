package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// migrationLockKey serializes migrations across replicas sharing a database
const migrationLockKey int64 = 7_284_301_566

// ErrNothingToRollback is returned when no migration has been applied
var ErrNothingToRollback = errors.New("no migrations to rollback")

// Migration is one versioned schema change
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus reports whether a migration is recorded as applied
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// sortedMigrations returns the migrations in version order
func sortedMigrations() []Migration {
	out := make([]Migration, len(postgresMigrations))
	copy(out, postgresMigrations)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})
	return out
}

// withMigrationLock runs fn on a single connection holding the advisory lock
func withMigrationLock(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	// Unlock with a fresh context so a cancelled ctx still releases the lock
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS interlinker_schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return fn(conn)
}

// Migrate applies pending migrations in version order and returns how many ran
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	applied := 0
	err := withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range sortedMigrations() {
			if _, ok := done[m.Version]; ok {
				continue
			}
			if err := inTx(ctx, conn, m.Up,
				"INSERT INTO interlinker_schema_migrations (version, name) VALUES ($1, $2)",
				m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// Rollback reverts the most recent steps applied migrations, newest first
func Rollback(ctx context.Context, db *sql.DB, steps int) ([]Migration, error) {
	if steps < 1 {
		steps = 1
	}
	var reverted []Migration
	err := withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		if len(done) == 0 {
			return ErrNothingToRollback
		}

		all := sortedMigrations()
		for i := len(all) - 1; i >= 0 && len(reverted) < steps; i-- {
			m := all[i]
			if _, ok := done[m.Version]; !ok {
				continue
			}
			if err := inTx(ctx, conn, m.Down,
				"DELETE FROM interlinker_schema_migrations WHERE version = $1",
				m.Version,
			); err != nil {
				return fmt.Errorf("rollback %d (%s): %w", m.Version, m.Name, err)
			}
			reverted = append(reverted, m)
		}
		return nil
	})
	return reverted, err
}

// GetMigrationStatus lists every known migration with its recorded state
func GetMigrationStatus(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	var status []MigrationStatus
	err := withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range sortedMigrations() {
			s := MigrationStatus{Version: m.Version, Name: m.Name}
			if at, ok := done[m.Version]; ok {
				s.Applied = true
				s.AppliedAt = &at
			}
			status = append(status, s)
		}
		return nil
	})
	return status, err
}

// appliedVersions maps recorded versions to their applied_at time
func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]time.Time, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version, COALESCE(applied_at, NOW()) FROM interlinker_schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	done := map[int]time.Time{}
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		done[version] = at
	}
	return done, rows.Err()
}

// inTx executes schema SQL and the bookkeeping statement atomically
func inTx(ctx context.Context, conn *sql.Conn, schema, record string, args ...interface{}) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
