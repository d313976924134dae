package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"
)

// MigrationsFS holds the schema files. The migrations package assigns an
// embed.FS to it from init.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS holding the files.
var MigrationsDir = "."

// ErrNoDownMigration is returned by Rollback when the latest applied
// migration ships without a .down.sql file.
var ErrNoDownMigration = errors.New("migration has no down script")

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// MigrationStatus splits the known migrations into applied and pending.
type MigrationStatus struct {
	Applied []MigrationRecord
	Pending []Migration
}

// Migrate applies pending migrations oldest first. Each migration and its
// bookkeeping row commit together; a failure leaves earlier ones in place.
func (db *DB) Migrate(ctx context.Context) error {
	st, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range st.Pending {
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op on
// an unmigrated database.
func (db *DB) Rollback(ctx context.Context) error {
	st, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(st.Applied) == 0 {
		return nil
	}
	latest := st.Applied[len(st.Applied)-1]

	known, err := loadMigrations()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(known, func(m Migration) bool { return m.Version == latest.Version })
	if i < 0 {
		return fmt.Errorf("migration %s is applied but missing from the bundle", latest.Version)
	}
	m := known[i]
	if m.Down == "" {
		return fmt.Errorf("migration %s: %w", m.Version, ErrNoDownMigration)
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("reverting %s: %w", m.Version, err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
		return err
	})
}

// MigrationStatus reports which bundled migrations have been applied.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	var st MigrationStatus
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL
	)`); err != nil {
		return st, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return st, err
	}
	st.Applied = applied

	known, err := loadMigrations()
	if err != nil {
		return st, err
	}
	done := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		done[r.Version] = struct{}{}
	}
	for _, m := range known {
		if _, ok := done[m.Version]; !ok {
			st.Pending = append(st.Pending, m)
		}
	}
	return st, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			at string
		)
		if err := rows.Scan(&r.Version, &r.Name, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadMigrations returns the bundled migrations sorted by version. Files
// not matching the naming scheme and down scripts without an up script are
// skipped.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		parts := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || parts == nil {
			continue
		}
		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}

		version, name, direction := parts[1], parts[2], parts[3]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Name, m.Up = name, string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}
