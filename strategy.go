package outbox

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// StrategyKind selects how the idempotency token is derived on AddEvent.
type StrategyKind int

const (
	// StrategyNone disables deduplication: no token is derived or stored.
	StrategyNone StrategyKind = iota
	// StrategyProvided uses the caller-supplied token; an empty one is an error.
	StrategyProvided
	// StrategyUUID generates a fresh time-ordered UUID per call.
	StrategyUUID
	// StrategyCustom derives the token from the event context via Custom.
	StrategyCustom
	// StrategyHashPayload derives the token from a content hash of the payload,
	// so resubmitting byte-identical payloads deduplicates.
	StrategyHashPayload
)

// IdempotencyStrategy is a tagged variant; Custom carries the derivation
// function and is required only for StrategyCustom.
type IdempotencyStrategy struct {
	Kind   StrategyKind
	Custom func(*Event) string
}

var errNoEventContext = errors.New("idempotency strategy Custom requires an event context")

func (s IdempotencyStrategy) validate() error {
	switch s.Kind {
	case StrategyNone, StrategyProvided, StrategyUUID, StrategyHashPayload:
		return nil
	case StrategyCustom:
		if s.Custom == nil {
			return errors.New("idempotency strategy Custom requires a derivation function")
		}
		return nil
	default:
		return fmt.Errorf("unknown idempotency strategy kind %d", s.Kind)
	}
}

// Token derives the idempotency token for one producer call. getEvent is
// only invoked for StrategyCustom and may be nil otherwise.
func (s IdempotencyStrategy) Token(provided string, payload json.RawMessage, getEvent func() *Event) (IdempotencyToken, error) {
	switch s.Kind {
	case StrategyNone:
		return "", nil
	case StrategyProvided:
		provided = strings.TrimSpace(provided)
		if provided == "" {
			return "", errors.New("idempotency strategy Provided requires a caller token")
		}
		return IdempotencyToken(provided), nil
	case StrategyUUID:
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate token uuid: %w", err)
		}
		return IdempotencyToken(id.String()), nil
	case StrategyCustom:
		if s.Custom == nil {
			return "", errors.New("idempotency strategy Custom requires a derivation function")
		}
		var event *Event
		if getEvent != nil {
			event = getEvent()
		}
		if event == nil {
			return "", errNoEventContext
		}
		return IdempotencyToken(s.Custom(event)), nil
	case StrategyHashPayload:
		sum := blake2b.Sum256(payload)
		return IdempotencyToken(hex.EncodeToString(sum[:])), nil
	default:
		return "", fmt.Errorf("unknown idempotency strategy kind %d", s.Kind)
	}
}
