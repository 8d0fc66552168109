package outbox_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memStore implements Storage and Writer with real claim semantics (lock
// expiry, token uniqueness, notify doorbell) so scenario tests can run the
// full engine without a database. The clock is injectable.
type memStore struct {
	mu     sync.Mutex
	cfg    outbox.Config
	rows   map[uuid.UUID]*outbox.Event
	notify chan struct{}
	now    func() time.Time
}

func newMemStore(cfg outbox.Config) *memStore {
	return &memStore{
		cfg:    cfg,
		rows:   make(map[uuid.UUID]*outbox.Event),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (s *memStore) InsertEvent(ctx context.Context, event outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.IdempotencyToken != "" {
		for _, row := range s.rows {
			if row.IdempotencyToken == event.IdempotencyToken {
				return outbox.ErrDuplicateEvent
			}
		}
	}
	copied := event
	s.rows[event.ID] = &copied
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *memStore) FetchNextToProcess(ctx context.Context, limit int) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var eligible []*outbox.Event
	for _, row := range s.rows {
		if row.Status == outbox.StatusPending ||
			(row.Status == outbox.StatusProcessing && row.LockedUntil.Before(now)) {
			eligible = append(eligible, row)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].LockedUntil.Before(eligible[j].LockedUntil)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]outbox.Event, 0, len(eligible))
	for _, row := range eligible {
		row.Status = outbox.StatusProcessing
		row.LockedUntil = now.Add(s.cfg.LockTimeout)
		claimed = append(claimed, *row)
	}
	return claimed, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, ids []uuid.UUID, status outbox.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			row.Status = status
		}
	}
	return nil
}

func (s *memStore) DeleteGarbage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	for id, row := range s.rows {
		if row.Status == outbox.StatusSent && row.CreatedAt.Before(cutoff) {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *memStore) WaitForNotification(ctx context.Context, channel string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.notify:
		return nil
	}
}

func (s *memStore) get(id uuid.UUID) (outbox.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return outbox.Event{}, false
	}
	return *row, true
}

func (s *memStore) all() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, *row)
	}
	return out
}

func (s *memStore) countByStatus(status outbox.EventStatus) int {
	n := 0
	for _, row := range s.all() {
		if row.Status == status {
			n++
		}
	}
	return n
}

// recTransport records publishes and can fail selected events.
type recTransport struct {
	mu        sync.Mutex
	published []outbox.Event
	fail      func(outbox.Event) error
}

func (t *recTransport) Publish(ctx context.Context, event outbox.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		if err := t.fail(event); err != nil {
			return err
		}
	}
	t.published = append(t.published, event)
	return nil
}

func (t *recTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.published)
}

func (t *recTransport) events() []outbox.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]outbox.Event(nil), t.published...)
}

// memTokenCache is a map-backed TryReserve, ignoring TTL.
type memTokenCache struct {
	mu       sync.Mutex
	reserved map[outbox.IdempotencyToken]bool
}

func newMemTokenCache() *memTokenCache {
	return &memTokenCache{reserved: make(map[outbox.IdempotencyToken]bool)}
}

func (c *memTokenCache) TryReserve(ctx context.Context, token outbox.IdempotencyToken) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved[token] {
		return false, nil
	}
	c.reserved[token] = true
	return true, nil
}

// testify mocks for the narrow unit tests.

type MockWriter struct{ mock.Mock }

func (m *MockWriter) InsertEvent(ctx context.Context, event outbox.Event) error {
	return m.Called(ctx, event).Error(0)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) TryReserve(ctx context.Context, token outbox.IdempotencyToken) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

type MockStorage struct{ mock.Mock }

func (m *MockStorage) FetchNextToProcess(ctx context.Context, limit int) ([]outbox.Event, error) {
	args := m.Called(ctx, limit)
	var events []outbox.Event
	if v := args.Get(0); v != nil {
		events = v.([]outbox.Event)
	}
	return events, args.Error(1)
}

func (m *MockStorage) UpdateStatus(ctx context.Context, ids []uuid.UUID, status outbox.EventStatus) error {
	return m.Called(ctx, ids, status).Error(0)
}

func (m *MockStorage) DeleteGarbage(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStorage) WaitForNotification(ctx context.Context, channel string) error {
	return m.Called(ctx, channel).Error(0)
}
