package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestGuard_Acquire(t *testing.T) {
	ttl := 30 * time.Second

	t.Run("Free", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		g := NewGuard(db, ttl)
		mock.ExpectSetNX("payment:inflight:ref-1", "1", ttl).SetVal(true)

		ok, err := g.Acquire(context.Background(), "ref-1")

		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Held", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		g := NewGuard(db, ttl)
		mock.ExpectSetNX("payment:inflight:ref-1", "1", ttl).SetVal(false)

		ok, err := g.Acquire(context.Background(), "ref-1")

		assert.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		g := NewGuard(db, ttl)
		mock.ExpectSetNX("payment:inflight:ref-1", "1", ttl).SetErr(errors.New("connection refused"))

		ok, err := g.Acquire(context.Background(), "ref-1")

		assert.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGuard_Release(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		g := NewGuard(db, time.Minute)
		mock.ExpectDel("payment:inflight:ref-1").SetVal(1)

		assert.NoError(t, g.Release(context.Background(), "ref-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		g := NewGuard(db, time.Minute)
		mock.ExpectDel("payment:inflight:ref-1").SetErr(errors.New("timeout"))

		assert.Error(t, g.Release(context.Background(), "ref-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
