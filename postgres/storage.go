package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/baechuer/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	zlog "github.com/rs/zerolog/log"
)

// The hot statement: claim in a single round-trip. Contended rows are
// skipped, not waited on, so concurrent workers never block each other.
// Ordering by locked_until re-drives stuck work before fresh work (Pending
// rows sit at the epoch origin).
const fetchNextSQL = `
UPDATE outbox_events
SET status = 'Processing',
    locked_until = NOW() + ($2 * INTERVAL '1 minute')
WHERE id IN (
	SELECT id
	FROM outbox_events
	WHERE status = 'Pending'
	   OR (status = 'Processing' AND locked_until < NOW())
	ORDER BY locked_until ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, idempotency_token, event_type, payload, status, created_at, locked_until
`

const updateStatusSQL = `
UPDATE outbox_events SET status = $1 WHERE id = ANY($2::uuid[])
`

// gcBatchLimit bounds one GC pass so retention spikes cannot produce a
// table-sized delete.
const gcBatchLimit = 5000

const deleteGarbageSQL = `
DELETE FROM outbox_events
WHERE id IN (
	SELECT id
	FROM outbox_events
	WHERE status = 'Sent'
	  AND created_at < NOW() - ($1 * INTERVAL '1 day')
	LIMIT %d
)`

// Storage implements the claim queue over Postgres with row locks and
// LISTEN/NOTIFY.
type Storage struct {
	pool *pgxpool.Pool
	cfg  outbox.Config

	// The listen connection is cached across calls and guarded so manager
	// restarts cannot race it. A receive error drops it; the next call
	// reconnects.
	mu       sync.Mutex
	listener *pgxpool.Conn
}

func NewStorage(pool *pgxpool.Pool, cfg outbox.Config) *Storage {
	return &Storage{pool: pool, cfg: cfg}
}

func (s *Storage) FetchNextToProcess(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, fetchNextSQL, limit, s.cfg.LockTimeout.Minutes())
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (outbox.Event, error) {
	var (
		event  outbox.Event
		token  *string
		status string
	)
	err := rows.Scan(&event.ID, &token, &event.EventType, &event.Payload, &status, &event.CreatedAt, &event.LockedUntil)
	if err != nil {
		return outbox.Event{}, err
	}
	if token != nil {
		event.IdempotencyToken = outbox.IdempotencyToken(*token)
	}
	event.Status = outbox.EventStatus(status)
	return event, nil
}

func (s *Storage) UpdateStatus(ctx context.Context, ids []uuid.UUID, status outbox.EventStatus) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	if _, err := s.pool.Exec(ctx, updateStatusSQL, string(status), raw); err != nil {
		return fmt.Errorf("update outbox status: %w", err)
	}
	return nil
}

func (s *Storage) DeleteGarbage(ctx context.Context) error {
	sql := fmt.Sprintf(deleteGarbageSQL, gcBatchLimit)
	tag, err := s.pool.Exec(ctx, sql, s.cfg.RetentionDays)
	if err != nil {
		return fmt.Errorf("delete outbox garbage: %w", err)
	}
	if deleted := tag.RowsAffected(); deleted > 0 {
		zlog.Logger.Debug().Int64("deleted", deleted).Msg("outbox garbage collected")
	}
	return nil
}

// WaitForNotification blocks until a doorbell arrives on channel. The first
// call opens the subscription; subsequent calls reuse it. The mutex is held
// for the whole wait; only the drainer calls this, so it never contends in
// practice but keeps manager restarts from racing the handle.
func (s *Storage) WaitForNotification(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire listen connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return fmt.Errorf("listen on %s: %w", channel, err)
		}
		s.listener = conn
	}

	if _, err := s.listener.Conn().WaitForNotification(ctx); err != nil {
		// Drop the subscription; the next call reconnects.
		s.listener.Release()
		s.listener = nil
		return fmt.Errorf("wait for notification on %s: %w", channel, err)
	}
	return nil
}

// Close releases the cached listen connection, if any.
func (s *Storage) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Release()
		s.listener = nil
	}
}
