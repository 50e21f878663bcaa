package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// Handler processes a published event.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Message is a persisted event waiting for delivery. It satisfies Event via its topic.
type Message struct {
	ID            string
	Topic         string
	AggregateID   string
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

func (m Message) EventName() string { return m.Topic }

// NewMessage serialises an event for the outbox table.
func NewMessage(id, aggregateID string, e Event) (Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: marshal %s: %w", e.EventName(), err)
	}
	now := time.Now().UTC()
	return Message{
		ID:            id,
		Topic:         e.EventName(),
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Store persists messages in the same transaction as the state change that produced them.
type Store interface {
	Enqueue(ctx context.Context, m Message) error
	// ClaimDue marks up to limit due messages in_progress and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Message, error)
	MarkSent(ctx context.Context, ids []string) error
	// MarkFailed schedules a retry at next, or parks the message as failed when dead is set.
	MarkFailed(ctx context.Context, id string, errMsg string, next time.Time, dead bool) error
}

// Enqueuer is the narrow write side used by use cases.
type Enqueuer interface {
	Enqueue(ctx context.Context, m Message) error
}
