package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact.broker/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := NewRedisStore(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func samplePayload() *models.RevealedPayload {
	return &models.RevealedPayload{
		RequestID:        "req-1",
		Channel:          models.ChannelEmail,
		EncryptedPayload: "cGF5bG9hZA==",
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisStoreTakeOnce(t *testing.T) {
	st, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))
	assert.True(t, mr.Exists("contact:token:tok"))

	got, err := st.TakeOnce(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", got.EncryptedPayload)
	assert.Equal(t, models.ChannelEmail, got.Channel)
	assert.Equal(t, "req-1", got.RequestID)

	_, err = st.TakeOnce(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("contact:token:tok"))
}

func TestRedisStoreRejectsNonPositiveTTL(t *testing.T) {
	st, mr := newTestRedis(t)
	ctx := context.Background()

	assert.ErrorIs(t, st.SetWithTTL(ctx, "tok", samplePayload(), 0), ErrInvalidTTL)
	assert.False(t, mr.Exists("contact:token:tok"))
}

func TestRedisStoreRejectsExistingKey(t *testing.T) {
	st, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))
	err := st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	st, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))
	mr.FastForward(time.Hour + time.Second)

	_, err := st.TakeOnce(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreConcurrentTakeOnce(t *testing.T) {
	st, _ := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))

	const n = 32
	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.TakeOnce(ctx, "tok"); err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, ErrNotFound) {
				misses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, n-1, misses.Load())
}
