package db

import (
	"github.com/pkg/errors"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/store"
	"github.com/duetcast/duetcast/store/db/memory"
	"github.com/duetcast/duetcast/store/db/postgres"
	"github.com/duetcast/duetcast/store/db/sqlite"
)

// NewDBDriver creates a new session store driver based on profile.
//
// sqlite: single-node deployments, state survives restarts.
// postgres: multi-instance deployments; the version column makes the
// compare-and-swap safe across processes.
// memory: development and tests only.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "memory":
		driver = memory.NewDB()
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'sqlite', 'postgres' and 'memory' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
