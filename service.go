package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Service is the producer-side write path: derive a token, reserve it in the
// cache, insert the row. The wake-up notification is the storage adapter's
// job (trigger on insert), not the service's.
type Service struct {
	writer Writer
	cache  TokenCache
	cfg    Config
}

// NewService builds a service without a token cache; deduplication then
// relies solely on the unique token index at insert time.
func NewService(writer Writer, cfg Config) (*Service, error) {
	return NewServiceWithCache(writer, nil, cfg)
}

// NewServiceWithCache builds a service that fences duplicate submissions
// through cache before any row is written.
func NewServiceWithCache(writer Writer, cache TokenCache, cfg Config) (*Service, error) {
	if writer == nil {
		return nil, errors.New("outbox service: writer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{writer: writer, cache: cache, cfg: cfg}, nil
}

// AddEvent persists one event in status Pending. providedToken is only
// consulted by the Provided strategy; getEvent only by Custom.
//
// Returns ErrDuplicateEvent when the token was already reserved or stored.
// Either the row exists after the call or it does not; there is no partial
// state.
func (s *Service) AddEvent(ctx context.Context, eventType string, payload json.RawMessage, providedToken string, getEvent func() *Event) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return errors.New("outbox service: event type must not be empty")
	}

	token, err := s.cfg.Strategy.Token(providedToken, payload, getEvent)
	if err != nil {
		return err
	}

	if s.cache != nil && token != "" {
		ok, err := s.cache.TryReserve(ctx, token)
		if err != nil {
			return fmt.Errorf("reserve idempotency token: %w", err)
		}
		if !ok {
			return ErrDuplicateEvent
		}
	}

	return s.writer.InsertEvent(ctx, NewEvent(EventType(eventType), payload, token))
}
