package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration is a named pair of schema changes
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// ErrNothingToRollback is returned by Rollback when no migration is applied
var ErrNothingToRollback = errors.New("no migrations to rollback")

// Migrator applies migrations and records them in schema_migrations
type Migrator struct {
	db *sql.DB
}

// New creates a new Migrator
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the bookkeeping table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// Applied returns the names of applied migrations
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// run executes body and the bookkeeping statement in one transaction
func (m *Migrator) run(ctx context.Context, name, body, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Printf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// Up applies a single migration
func (m *Migrator) Up(ctx context.Context, migration *Migration) error {
	return m.run(ctx, migration.Name, migration.UpSQL, `INSERT INTO schema_migrations (name) VALUES ($1)`)
}

// Down reverts a single migration
func (m *Migrator) Down(ctx context.Context, migration *Migration) error {
	return m.run(ctx, migration.Name, migration.DownSQL, `DELETE FROM schema_migrations WHERE name = $1`)
}

// Migrate applies all pending migrations in order and returns the names applied
func (m *Migrator) Migrate(ctx context.Context, migrations []*Migration) ([]string, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, migration := range migrations {
		if applied[migration.Name] {
			continue
		}
		if err := m.Up(ctx, migration); err != nil {
			return done, err
		}
		done = append(done, migration.Name)
	}
	return done, nil
}

// Rollback reverts the most recently applied migration of the list
func (m *Migrator) Rollback(ctx context.Context, migrations []*Migration) (string, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return "", err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Name] {
			if err := m.Down(ctx, migrations[i]); err != nil {
				return "", err
			}
			return migrations[i].Name, nil
		}
	}
	return "", ErrNothingToRollback
}
