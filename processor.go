package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Processor claims a batch, publishes each event, and records outcomes.
type Processor struct {
	storage   Storage
	transport Transport
	cfg       Config
}

func NewProcessor(storage Storage, transport Transport, cfg Config) *Processor {
	return &Processor{storage: storage, transport: transport, cfg: cfg}
}

// ProcessPendingEvents runs one claim-publish-mark cycle and returns the
// number of claimed events (zero means the queue was empty).
//
// Failed publishes are logged and left in Processing on purpose: once
// locked_until expires the rows become claimable again, which is the retry
// mechanism.
func (p *Processor) ProcessPendingEvents(ctx context.Context) (int, error) {
	events, err := p.storage.FetchNextToProcess(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch next to process: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	log := zlog.Logger.With().Str("component", "outbox_processor").Logger()

	successIDs := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		if err := p.transport.Publish(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Stringer("event_id", event.ID).
				Str("event_type", string(event.EventType)).
				Msg("publish failed; will retry after lock expiry")
			continue
		}
		successIDs = append(successIDs, event.ID)
	}

	if len(successIDs) > 0 {
		if err := p.storage.UpdateStatus(ctx, successIDs, StatusSent); err != nil {
			// Hazardous window: the publishes happened but the rows stay
			// Processing and will be re-published. At-least-once.
			return len(events), fmt.Errorf("mark events sent: %w", err)
		}
	}

	return len(events), nil
}
