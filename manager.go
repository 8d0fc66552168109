package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	// processRetryDelay is the brief cooldown after a failed processing cycle.
	processRetryDelay = 1 * time.Second
	// notifyRetryDelay is the backoff after a broken notification subscription.
	notifyRetryDelay = 5 * time.Second
)

// Manager supervises the drainer and the garbage collector. It reacts to
// push notifications from the storage adapter and to periodic poll ticks,
// and shuts down when ctx is cancelled.
type Manager struct {
	storage   Storage
	transport Transport
	cfg       Config
	processor *Processor
	gc        *GarbageCollector
}

func NewManager(storage Storage, transport Transport, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		storage:   storage,
		transport: transport,
		cfg:       cfg,
		processor: NewProcessor(storage, transport, cfg),
		gc:        NewGarbageCollector(storage),
	}, nil
}

// Run blocks until ctx is cancelled and all supervised tasks have exited.
// In-flight database calls complete normally; no new claims begin after
// cancellation.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	notify := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.notifyLoop(ctx, notify)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.gcLoop(ctx)
	}()

	m.drainLoop(ctx, notify)
	wg.Wait()
	return nil
}

// notifyLoop keeps one subscription alive and coalesces doorbells into the
// buffered notify channel. A full buffer means a drain is already due, so
// extra doorbells are dropped.
func (m *Manager) notifyLoop(ctx context.Context, notify chan<- struct{}) {
	log := zlog.Logger.With().Str("component", "outbox_notify").Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.storage.WaitForNotification(ctx, m.cfg.Channel); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("channel", m.cfg.Channel).Msg("notification wait failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(notifyRetryDelay):
			}
			continue
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) drainLoop(ctx context.Context, notify <-chan struct{}) {
	log := zlog.Logger.With().Str("component", "outbox_drainer").Logger()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-notify:
		case <-ticker.C:
		}
		m.drain(ctx, log)
	}
}

// drain runs processing cycles until the queue is empty or a cycle fails.
func (m *Manager) drain(ctx context.Context, log zerolog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		count, err := m.processor.ProcessPendingEvents(ctx)
		if err != nil {
			log.Error().Err(err).Msg("processing cycle failed")
			select {
			case <-ctx.Done():
			case <-time.After(processRetryDelay):
			}
			return
		}
		if count == 0 {
			return
		}
		log.Debug().Int("count", count).Msg("processed events")
	}
}

func (m *Manager) gcLoop(ctx context.Context) {
	log := zlog.Logger.With().Str("component", "outbox_gc").Logger()

	ticker := time.NewTicker(m.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-ticker.C:
			if err := m.gc.CollectGarbage(ctx); err != nil {
				log.Warn().Err(err).Msg("garbage collection failed")
			}
		}
	}
}
