package database

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Open opens the embedded database at path, creating the parent
// directory if needed, and brings the schema up to date. A failed
// migration is fatal for the caller; the handle is closed before the
// error is returned.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

type migration struct {
	name string
	stmt string
}

// migrations are applied in order, exactly once each, inside a
// transaction together with their schema_migrations row.
var migrations = []migration{
	{
		name: "20240116_create_sessions",
		stmt: `CREATE TABLE IF NOT EXISTS sessions (
			provider    TEXT PRIMARY KEY,
			cookies     BLOB NOT NULL,
			token_vals  BLOB NOT NULL,
			fingerprint TEXT NOT NULL,
			expires_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);`,
	},
	{
		name: "20240116_create_credentials",
		stmt: `CREATE TABLE IF NOT EXISTS credentials (
			provider TEXT PRIMARY KEY,
			account  TEXT NOT NULL
		);`,
	},
	{
		name: "20240116_create_cache_records",
		stmt: `CREATE TABLE IF NOT EXISTS cache_records (
			provider   TEXT NOT NULL,
			content_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			hash       TEXT NOT NULL,
			size       INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL,
			content    BLOB NOT NULL,
			PRIMARY KEY (provider, content_id, kind)
		);`,
	},
	{
		name: "20240312_cache_records_fetched_at_idx",
		stmt: `CREATE INDEX IF NOT EXISTS idx_cache_records_fetched_at ON cache_records (provider, fetched_at);`,
	},
}

// Migrate runs all pending migrations. Already-applied migrations are
// skipped, making startup idempotent.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);`)
	if err != nil {
		return errors.Wrap(err, "failed to create schema_migrations table")
	}

	for _, m := range migrations {
		applied, err := migrationApplied(db, m.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "failed to begin migration %q", m.name)
		}

		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "migration %q failed", m.name)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, unixepoch())`, m.name); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration %q", m.name)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %q", m.name)
		}
	}

	return nil
}

func migrationApplied(db *sql.DB, name string) (bool, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&count); err != nil {
		return false, errors.Wrap(err, "failed to query schema_migrations")
	}

	return count > 0, nil
}
