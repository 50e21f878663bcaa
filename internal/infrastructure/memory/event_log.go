package memory

import (
	"context"
	"sync"

	domain "github.com/farmstand/storefront/internal/domain/payment"
)

type EventLog struct{ s *Store }

func (l *EventLog) Record(ctx context.Context, eventID string, eventType domain.EventType) (bool, error) {
	first := false
	err := l.s.run(ctx, func(st *state) error {
		if _, seen := st.events[eventID]; seen {
			return nil
		}
		st.events[eventID] = eventType
		first = true
		return nil
	})
	return first, err
}

// EventLock is the single-process stand-in for the Redis lock.
type EventLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewEventLock() *EventLock {
	return &EventLock{held: make(map[string]struct{})}
}

func (l *EventLock) Acquire(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[eventID]; busy {
		return false, nil
	}
	l.held[eventID] = struct{}{}
	return true, nil
}

func (l *EventLock) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, eventID)
	return nil
}
