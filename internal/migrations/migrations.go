// Package migrations applies the embedded schema migrations.
package migrations

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

//go:embed sql/*.sql
var files embed.FS

// Pattern: 001_name.up.sql / 001_name.down.sql
var filePattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)

// Migration is one versioned schema change
type Migration struct {
	Version   int
	Name      string
	Up        string
	Down      string
	Applied   bool
	AppliedAt *time.Time
}

// Runner tracks applied versions in schema_migrations
type Runner struct {
	db     *sql.DB
	source fs.FS
}

// NewRunner creates a runner over the embedded migrations
func NewRunner(db *sql.DB) *Runner {
	sub, _ := fs.Sub(files, "sql")
	return &Runner{db: db, source: sub}
}

// Load reads and orders the migration files
func Load(source fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		m := filePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		content, err := fs.ReadFile(source, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: m[2]}
			byVersion[version] = mig
		}
		if mig.Name != m[2] {
			return nil, fmt.Errorf("migration %03d has conflicting names %q and %q", version, mig.Name, m[2])
		}
		if m[3] == "up" {
			mig.Up = string(content)
		} else {
			mig.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up file", mig.Version, mig.Name)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (r *Runner) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status lists every migration with its applied state
func (r *Runner) Status(ctx context.Context) ([]Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := Load(r.source)
	if err != nil {
		return nil, err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	for i := range migrations {
		if at, ok := applied[migrations[i].Version]; ok {
			at := at
			migrations[i].Applied = true
			migrations[i].AppliedAt = &at
		}
	}
	return migrations, nil
}

// Up applies every pending migration, each in its own transaction
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	all, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, m := range all {
		if m.Applied {
			continue
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// Down rolls back the newest applied migration. It returns nil when nothing is applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	all, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if !m.Applied {
			continue
		}
		if m.Down == "" {
			return nil, fmt.Errorf("migration %03d_%s has no down file", m.Version, m.Name)
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return fmt.Errorf("failed to execute rollback SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to roll back migration %03d_%s: %w", m.Version, m.Name, err)
		}
		return &m, nil
	}
	return nil, nil
}

func (r *Runner) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
