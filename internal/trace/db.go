package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the handle to the run-history database.
type DB struct {
	db *sql.DB
}

// Open creates dataDir if needed, opens dataDir/trace.db in WAL mode, and
// brings the schema up to date from the embedded migrations.
func Open(dataDir string) (*DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("trace: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	conn, err := sql.Open("sqlite", filepath.Join(dataDir, "trace.db")+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("trace: open: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("trace: enable WAL: %w", err)
	}
	d := &DB{db: conn}
	if err := d.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// SQLDB exposes the connection for the stores built on this handle. Close
// through DB, not here.
func (d *DB) SQLDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

// migrate applies every embedded migration newer than the database's
// user_version, each in its own transaction.
func (d *DB) migrate() error {
	var current int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("trace: read schema version: %w", err)
	}
	pending, err := pendingMigrations(current)
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	for _, m := range pending {
		src, err := fs.ReadFile(migrationsFS, "migrations/"+m.name)
		if err != nil {
			return fmt.Errorf("trace: migration %s: %w", m.name, err)
		}
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("trace: migration %s: begin: %w", m.name, err)
		}
		if _, err := tx.Exec(string(src)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("trace: migration %s: %w", m.name, err)
		}
		// PRAGMA does not take placeholders.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("trace: migration %s: record version: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("trace: migration %s: commit: %w", m.name, err)
		}
	}
	return nil
}

type migration struct {
	version int
	name    string
}

// pendingMigrations lists embedded migrations with a version above current,
// ordered by version. File names follow NNN_description.sql.
func pendingMigrations(current int) ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var pending []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		if v > current {
			pending = append(pending, migration{version: v, name: name})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}
