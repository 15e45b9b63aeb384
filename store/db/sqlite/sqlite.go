// Package sqlite implements the session store driver on SQLite via the
// CGO-free modernc driver.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/duetcast/duetcast/internal/profile"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// DB is the SQLite driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database described by the profile DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// busy_timeout covers short lock contention between the server and the
	// cleanup job; WAL keeps readers unblocked during turn commits.
	dsn := profile.DSN + "?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	return &DB{db: sqliteDB, profile: profile}, nil
}

// GetDB returns the underlying database handle.
func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var name string
	err := d.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'session'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check schema")
	}
	return true, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			personas TEXT NOT NULL,
			scenario TEXT NOT NULL DEFAULT '',
			max_turns INTEGER NOT NULL,
			turn_count INTEGER NOT NULL,
			history TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			expires_ts BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_expires_ts ON session (expires_ts);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to migrate session schema")
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
