package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lock := NewEventLock(db, "webhook:", 10*time.Second)
	ctx := context.Background()

	mock.ExpectSetNX("webhook:evt_1", "1", 10*time.Second).SetVal(true)
	mock.ExpectDel("webhook:evt_1").SetVal(1)

	ok, err := lock.Acquire(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(ctx, "evt_1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireBusy(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lock := NewEventLock(db, "webhook:", 0)

	mock.ExpectSetNX("webhook:evt_1", "1", DefaultLockTTL).SetVal(false)

	ok, err := lock.Acquire(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lock := NewEventLock(db, "webhook:", time.Second)

	mock.ExpectSetNX("webhook:evt_1", "1", time.Second).SetErr(errors.New("connection refused"))

	_, err := lock.Acquire(context.Background(), "evt_1")
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}
