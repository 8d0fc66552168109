// Package outbox implements the transactional outbox pattern: producers
// persist an event row in the same database transaction as their business
// state, and a background manager drains those rows to a message bus with
// at-least-once delivery.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventStatus is the delivery state of an outbox row.
type EventStatus string

const (
	// StatusPending: written by a producer, not yet claimed.
	StatusPending EventStatus = "Pending"
	// StatusProcessing: claimed by a worker; the claim is valid until
	// locked_until, after which the row becomes claimable again.
	StatusProcessing EventStatus = "Processing"
	// StatusSent: durably handed to the bus. Terminal; only GC removes it.
	StatusSent EventStatus = "Sent"
)

// EventType is the short label routed on by transports ("topic"/kind).
type EventType string

// IdempotencyToken deduplicates producer submissions. Empty means none.
type IdempotencyToken string

// Event is a persisted outbox row. The engine never inspects Payload.
type Event struct {
	ID               uuid.UUID
	IdempotencyToken IdempotencyToken
	EventType        EventType
	Payload          json.RawMessage
	Status           EventStatus
	CreatedAt        time.Time
	LockedUntil      time.Time
}

// NewEvent builds a Pending event. LockedUntil starts at the epoch origin so
// fresh rows sort as "claimed long ago" and are picked up first.
func NewEvent(eventType EventType, payload json.RawMessage, token IdempotencyToken) Event {
	return Event{
		ID:               uuid.New(),
		IdempotencyToken: token,
		EventType:        eventType,
		Payload:          payload,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
		LockedUntil:      time.Unix(0, 0).UTC(),
	}
}
