package outbox

import "context"

// NoopTokenCache accepts every reservation. Selected when no cache is
// configured; deduplication then falls back to the unique token index.
type NoopTokenCache struct{}

func (NoopTokenCache) TryReserve(ctx context.Context, token IdempotencyToken) (bool, error) {
	return true, nil
}

// NoopTransport discards every event. Useful for tests and for running the
// engine before a real bus exists.
type NoopTransport struct{}

func (NoopTransport) Publish(ctx context.Context, event Event) error {
	return nil
}
