package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	up        string
	down      string
}

var migrationPattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)

// Migrator applies the embedded schema migrations
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator creates a migrator over the embedded migrations
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, files: migrationFS}
}

// loadMigrations reads migration files sorted by version
func (m *Migrator) loadMigrations() ([]*Migration, error) {
	entries, err := fs.ReadDir(m.files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		content, err := fs.ReadFile(m.files, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = mig
		}
		if matches[3] == "up" {
			mig.up = string(content)
		} else {
			mig.down = string(content)
		}
	}

	migrations := make([]*Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]time.Time{}
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status returns every known migration with its applied state
func (m *Migrator) Status(ctx context.Context) ([]*Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := m.loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	for _, mig := range migrations {
		if at, ok := applied[mig.Version]; ok {
			at := at
			mig.Applied = true
			mig.AppliedAt = &at
		}
	}
	return migrations, nil
}

// Up applies pending migrations in order and returns the ones applied
func (m *Migrator) Up(ctx context.Context) ([]*Migration, error) {
	migrations, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []*Migration
	for _, mig := range migrations {
		if mig.Applied {
			continue
		}
		if err := m.run(ctx, mig.up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
			return done, fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		done = append(done, mig)
	}
	return done, nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) (*Migration, error) {
	migrations, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if !mig.Applied {
			continue
		}
		if mig.down == "" {
			return nil, fmt.Errorf("migration %03d_%s has no down script", mig.Version, mig.Name)
		}
		if err := m.run(ctx, mig.down, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
			return nil, fmt.Errorf("failed to roll back migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		return mig, nil
	}
	return nil, nil
}

// run executes a script and its bookkeeping statement in one transaction
func (m *Migrator) run(ctx context.Context, script, bookkeeping string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
