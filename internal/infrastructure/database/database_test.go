package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		wal  bool
	}{
		{"flat file", filepath.Join(dir, "habridge.db"), true},
		{"nested directories", filepath.Join(dir, "var", "lib", "habridge", "habridge.db"), true},
		{"rollback journal", filepath.Join(dir, "journal.db"), false},
		{"memory", MemoryPath, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(Config{Path: tt.path, WALMode: tt.wal, BusyTimeout: 2})
			if err != nil {
				t.Fatalf("Open(%q) error = %v", tt.path, err)
			}
			defer db.Close()

			if db.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", db.Path(), tt.path)
			}
			if got := db.Stats().MaxOpenConnections; got != 1 {
				t.Errorf("MaxOpenConnections = %d, want 1", got)
			}
			if err := db.HealthCheck(context.Background()); err != nil {
				t.Errorf("HealthCheck() error = %v", err)
			}
			if tt.path != MemoryPath {
				if _, err := os.Stat(filepath.Dir(tt.path)); err != nil {
					t.Errorf("parent directory missing: %v", err)
				}
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path succeeded")
	}

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Path: filepath.Join(blocker, "habridge.db")}); err == nil {
		t.Error("Open() below a regular file succeeded")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		inMemory bool
		want     []string
		absent   []string
	}{
		{
			name: "wal file",
			cfg:  Config{Path: "/data/habridge.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/data/habridge.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
		{
			name:   "wal off",
			cfg:    Config{Path: "/data/habridge.db", BusyTimeout: 1},
			want:   []string{"_busy_timeout=1000"},
			absent: []string{"_journal_mode"},
		},
		{
			name:     "memory ignores wal",
			cfg:      Config{Path: MemoryPath, WALMode: true},
			inMemory: true,
			want:     []string{"file::memory:?", "_busy_timeout=0"},
			absent:   []string{"_journal_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.cfg, tt.inMemory)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("dsn() = %q, missing %q", got, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("dsn() = %q, should not contain %q", got, a)
				}
			}
		})
	}
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := Open(Config{Path: MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(Config{Path: MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if _, err := a.ExecContext(ctx, `CREATE TABLE entity_area_cache (entity_id TEXT)`); err != nil {
		t.Fatalf("CREATE on a: %v", err)
	}
	if _, err := b.ExecContext(ctx, `SELECT * FROM entity_area_cache`); err == nil {
		t.Error("table created on one in-memory database is visible on another")
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE floors (id TEXT PRIMARY KEY);
		CREATE TABLE areas (id TEXT PRIMARY KEY, floor_id TEXT REFERENCES floors(id));
	`); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO areas VALUES ('kitchen', 'missing')`); err == nil {
		t.Error("insert violating a foreign key succeeded")
	}
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE mutes (entity_id TEXT)`); err != nil {
		t.Fatal(err)
	}

	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO mutes VALUES (?)`, id)
		return err
	}

	if err := db.WithTx(ctx, func(tx *sql.Tx) error { return insert(tx, "light.kitchen") }); err != nil {
		t.Fatalf("WithTx(commit) error = %v", err)
	}

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx, "switch.kettle"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx(rollback) error = %v, want boom", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutes`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close succeeded")
	}
	if _, err := db.BeginTx(context.Background(), nil); err == nil {
		t.Error("BeginTx() after Close succeeded")
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil handle error = %v", err)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if db.DB != nil {
			db.DB.Close()
		}
	})
	return db
}
