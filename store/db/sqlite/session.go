package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/duetcast/duetcast/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.SessionState) (*store.SessionState, error) {
	personas, history, err := marshalSession(create)
	if err != nil {
		return nil, err
	}

	state := create.Clone()
	state.Version = 1

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO session (id, mode, personas, scenario, max_turns, turn_count, history, status, version, created_ts, updated_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.SessionID, string(state.Mode), personas, state.Scenario,
		state.MaxTurns, state.TurnCount, history, string(state.Status),
		state.Version, state.CreatedAt.Unix(), state.UpdatedAt.Unix(), state.ExpiresAt.Unix(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return state, nil
}

func (d *DB) GetSession(ctx context.Context, sessionID string) (*store.SessionState, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, mode, personas, scenario, max_turns, turn_count, history, status, version, created_ts, updated_ts, expires_ts
		FROM session WHERE id = ?`,
		sessionID,
	)
	state, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if state.Expired(time.Now()) {
		return nil, store.ErrNotFound
	}
	return state, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.SessionState, expectedVersion int64) (*store.SessionState, error) {
	personas, history, err := marshalSession(update)
	if err != nil {
		return nil, err
	}

	state := update.Clone()
	state.Version = expectedVersion + 1

	result, err := d.db.ExecContext(ctx, `
		UPDATE session
		SET turn_count = ?, history = ?, status = ?, version = ?, updated_ts = ?, expires_ts = ?, personas = ?, scenario = ?
		WHERE id = ? AND version = ?`,
		state.TurnCount, history, string(state.Status), state.Version,
		state.UpdatedAt.Unix(), state.ExpiresAt.Unix(), personas, state.Scenario,
		state.SessionID, expectedVersion,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		// Distinguish a missing session from a version race.
		var exists int
		if err := d.db.QueryRowContext(ctx, `SELECT 1 FROM session WHERE id = ?`, state.SessionID).Scan(&exists); err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		} else if err != nil {
			return nil, errors.Wrap(err, "failed to check session existence")
		}
		return nil, store.ErrConflict
	}
	return state, nil
}

func (d *DB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM session WHERE expires_ts < ?`, now.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	return result.RowsAffected()
}

func marshalSession(state *store.SessionState) (personas string, history string, err error) {
	personasBytes, err := json.Marshal(state.Personas)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal personas")
	}
	historyBytes, err := json.Marshal(state.History)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal history")
	}
	return string(personasBytes), string(historyBytes), nil
}

func scanSession(row *sql.Row) (*store.SessionState, error) {
	var (
		state                           store.SessionState
		mode, personas, history, status string
		createdTs, updatedTs, expiresTs int64
	)
	err := row.Scan(
		&state.SessionID, &mode, &personas, &state.Scenario,
		&state.MaxTurns, &state.TurnCount, &history, &status,
		&state.Version, &createdTs, &updatedTs, &expiresTs,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan session")
	}

	state.Mode = store.Mode(mode)
	state.Status = store.Status(status)
	state.CreatedAt = time.Unix(createdTs, 0)
	state.UpdatedAt = time.Unix(updatedTs, 0)
	state.ExpiresAt = time.Unix(expiresTs, 0)

	if err := json.Unmarshal([]byte(personas), &state.Personas); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal personas")
	}
	if err := json.Unmarshal([]byte(history), &state.History); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal history")
	}
	if state.History == nil {
		state.History = []store.TurnRecord{}
	}
	return &state, nil
}
