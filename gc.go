package outbox

import "context"

// GarbageCollector prunes delivered, aged rows. Best-effort: the manager
// logs and swallows its failures.
type GarbageCollector struct {
	storage Storage
}

func NewGarbageCollector(storage Storage) *GarbageCollector {
	return &GarbageCollector{storage: storage}
}

func (g *GarbageCollector) CollectGarbage(ctx context.Context) error {
	return g.storage.DeleteGarbage(ctx)
}
