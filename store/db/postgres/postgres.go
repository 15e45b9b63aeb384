// Package postgres implements the session store driver on PostgreSQL.
// Use this for multi-instance deployments; the version column makes the
// compare-and-swap safe across processes.
package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/duetcast/duetcast/internal/profile"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
)

// DB is the PostgreSQL driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database described by the profile DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}

	return &DB{db: postgresDB, profile: profile}, nil
}

// GetDB returns the underlying database handle.
func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'session')`,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check schema")
	}
	return exists, nil
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
			version BIGINT NOT NULL,
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
