package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chamada/pkg/utils"
)

const createCallEvents = `
CREATE TABLE IF NOT EXISTS call_events (
	id          TEXT PRIMARY KEY,
	call_id     TEXT NOT NULL,
	room_name   TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
)`

const createCallEventsIndex = `CREATE INDEX IF NOT EXISTS call_events_call_id_idx ON call_events (call_id, created_at)`

const insertCallEvent = `
INSERT INTO call_events (id, call_id, room_name, type, state, error_kind, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectCallEvents = `
SELECT id, call_id, room_name, type, state, error_kind, message, COALESCE(metadata::text, ''), created_at
FROM call_events
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at, id`

// PostgresRepo persists events into the call_events table.
// Only INSERT is issued; rows are never updated.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("audit: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

// EnsureSchema creates the call_events table and its index if missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createCallEvents); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, createCallEventsIndex)
		return err
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var meta any
	if e.Metadata != "" {
		meta = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, insertCallEvent,
		e.ID, e.CallID, e.RoomName, string(e.Type), e.State, e.ErrorKind, e.Message, meta, e.CreatedAt)
	return err
}

// ListEvents returns events created in [from, to), oldest first.
func (r *PostgresRepo) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, selectCallEvents, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.RoomName, &typ, &e.State, &e.ErrorKind, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
