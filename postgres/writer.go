package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/baechuer/outbox"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the slice of pgx shared by pgxpool.Pool, *pgxpool.Conn, and pgx.Tx.
// Pass the producer's own transaction so the event row commits atomically
// with the business state.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEventSQL = `
INSERT INTO outbox_events (id, idempotency_token, event_type, payload, status, created_at, locked_until)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Writer inserts outbox rows. The notify trigger installed by EnsureSchema
// rings the doorbell, so the writer itself stays a plain insert.
type Writer struct {
	db DB
}

func NewWriter(db DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) InsertEvent(ctx context.Context, event outbox.Event) error {
	var token *string
	if event.IdempotencyToken != "" {
		t := string(event.IdempotencyToken)
		token = &t
	}

	_, err := w.db.Exec(ctx, insertEventSQL,
		event.ID.String(),
		token,
		string(event.EventType),
		[]byte(event.Payload),
		string(event.Status),
		event.CreatedAt,
		event.LockedUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrUniqueViolation {
			return outbox.ErrDuplicateEvent
		}
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// SQLSTATE for unique_violation.
const pgerrUniqueViolation = "23505"
