package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultLockTTL = 30 * time.Second

// EventLock holds a short-lived SETNX key per webhook event id so only one instance
// processes a given delivery at a time. The TTL bounds how long a crashed holder blocks retries.
type EventLock struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewEventLock(client redis.Cmdable, prefix string, ttl time.Duration) *EventLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &EventLock{client: client, prefix: prefix, ttl: ttl}
}

func (l *EventLock) key(eventID string) string {
	return l.prefix + eventID
}

func (l *EventLock) Acquire(ctx context.Context, eventID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(eventID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire event lock: %w", err)
	}
	return ok, nil
}

func (l *EventLock) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, l.key(eventID)).Err(); err != nil {
		return fmt.Errorf("redis: release event lock: %w", err)
	}
	return nil
}

// NewClient opens a client and pings it once so misconfiguration fails at startup.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}
