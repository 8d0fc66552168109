package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Storage is the claim queue over the outbox_events table.
type Storage interface {
	// FetchNextToProcess atomically claims up to limit rows that are Pending
	// or Processing with an expired lock, flips them to Processing with a
	// fresh lock, and returns them oldest-claim first. Rows locked by other
	// transactions are skipped, not waited on.
	FetchNextToProcess(ctx context.Context, limit int) ([]Event, error)

	// UpdateStatus bulk-updates the status of the given rows.
	UpdateStatus(ctx context.Context, ids []uuid.UUID, status EventStatus) error

	// DeleteGarbage removes a bounded batch of Sent rows older than the
	// configured retention.
	DeleteGarbage(ctx context.Context) error

	// WaitForNotification blocks until the backing store signals that new
	// work may exist on channel, or ctx is cancelled. After an error the
	// next call re-establishes the subscription.
	WaitForNotification(ctx context.Context, channel string) error
}

// Writer inserts one event row. Implementations accept either a pool or a
// caller-supplied transaction so the insert can join the producer's own
// transaction.
type Writer interface {
	// InsertEvent writes a single Pending row. A unique violation on the
	// idempotency token must surface as ErrDuplicateEvent.
	InsertEvent(ctx context.Context, event Event) error
}

// Transport hands an event to the external bus. A nil return means the bus
// has durably accepted the message. Must be safe for concurrent use.
type Transport interface {
	Publish(ctx context.Context, event Event) error
}

// TokenCache is the producer-side deduplication primitive.
type TokenCache interface {
	// TryReserve returns true iff this call was the first to reserve the
	// token within its TTL. Implementations must be atomic
	// (set-if-absent-with-expiry).
	TryReserve(ctx context.Context, token IdempotencyToken) (bool, error)
}
