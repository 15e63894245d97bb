package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the lifecycle event ledger. Events
// are append-only: there are no update or delete operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new event store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes a slice of events in a single multi-row INSERT. It is a
// no-op when events is empty.
func (s *Store) BatchInsert(ctx context.Context, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}

	const cols = 5
	args := make([]any, 0, len(evs)*cols)
	rows := make([]string, 0, len(evs))

	for i, ev := range evs {
		base := i * cols
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))

		meta, err := marshalMetadata(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling event metadata: %w", err)
		}
		args = append(args, ev.ID, ev.Type, ev.EntityID, ev.Timestamp, meta)
	}

	query := `INSERT INTO metric_events (id, type, entity_id, timestamp, metadata) VALUES ` +
		strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting events: %w", err)
	}
	return nil
}

// LatestTimestamp returns the most recent event timestamp for the given type,
// or the zero time when no such event exists.
func (s *Store) LatestTimestamp(ctx context.Context, t Type) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT timestamp FROM metric_events WHERE type = $1 ORDER BY timestamp DESC LIMIT 1`,
		t,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest event timestamp: %w", err)
	}
	return ts, nil
}

// ListRange returns all events of the given types with from <= timestamp <= to.
func (s *Store) ListRange(ctx context.Context, types []Type, from, to time.Time) ([]Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	ts := make([]string, len(types))
	for i, t := range types {
		ts[i] = string(t)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, type, entity_id, timestamp, metadata
		 FROM metric_events
		 WHERE type = ANY($1) AND timestamp >= $2 AND timestamp <= $3`,
		ts, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.EntityID, &ev.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling event metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}
