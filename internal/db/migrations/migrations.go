package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/saviobatista/ogn-feed/internal/logging"
)

// Migration is one forward/backward schema step, applied in slice order
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// All lists the schema in application order
var All = []*Migration{
	FeedSessions,
	SessionStats,
}

// Status reports whether a migration has been applied
type Status struct {
	Name    string
	Applied bool
}

// Migrator manages database migrations
type Migrator struct {
	db     *sql.DB
	logger *log.Logger
}

// New creates a new Migrator. A nil logger discards output.
func New(db *sql.DB, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Migrator{db: db, logger: logger}
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations returns the set of applied migration names
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			m.logger.Warn("Failed to close rows", "err", cerr)
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// executeMigration runs a step and its bookkeeping in one transaction
func (m *Migrator) executeMigration(ctx context.Context, migration *Migration, stmt, recordQuery string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.logger.Warn("Failed to roll back transaction", "migration", migration.Name, "err", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx, recordQuery, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}

	return tx.Commit()
}

// ApplyMigration applies a single migration
func (m *Migrator) ApplyMigration(ctx context.Context, migration *Migration) error {
	return m.executeMigration(ctx, migration, migration.UpSQL,
		"INSERT INTO schema_migrations (name) VALUES ($1)")
}

// RollbackMigration rolls back a single migration
func (m *Migrator) RollbackMigration(ctx context.Context, migration *Migration) error {
	return m.executeMigration(ctx, migration, migration.DownSQL,
		"DELETE FROM schema_migrations WHERE name = $1")
}

// Migrate applies all pending migrations
func (m *Migrator) Migrate(ctx context.Context, migrations []*Migration) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Name] {
			continue
		}
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
		m.logger.Info("Applied migration", "name", migration.Name)
	}

	return nil
}

// Rollback rolls back the last applied migration
func (m *Migrator) Rollback(ctx context.Context, migrations []*Migration) error {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var last *Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Name] {
			last = migrations[i]
			break
		}
	}

	if last == nil {
		return fmt.Errorf("no migrations to rollback")
	}

	if err := m.RollbackMigration(ctx, last); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}

	m.logger.Info("Rolled back migration", "name", last.Name)
	return nil
}

// Status reports each migration in order with its applied flag
func (m *Migrator) Status(ctx context.Context, migrations []*Migration) ([]Status, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	out := make([]Status, 0, len(migrations))
	for _, migration := range migrations {
		out = append(out, Status{Name: migration.Name, Applied: applied[migration.Name]})
	}
	return out, nil
}
