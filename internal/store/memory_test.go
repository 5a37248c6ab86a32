package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact.broker/internal/crypto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreTakeOnce(t *testing.T) {
	st := NewMemoryStore(0)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))
	assert.ErrorIs(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour), ErrKeyExists)

	got, err := st.TakeOnce(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", got.EncryptedPayload)

	_, err = st.TakeOnce(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsNonPositiveTTL(t *testing.T) {
	st := NewMemoryStore(0)
	defer st.Close()
	ctx := context.Background()

	assert.ErrorIs(t, st.SetWithTTL(ctx, "tok", samplePayload(), 0), ErrInvalidTTL)
	assert.ErrorIs(t, st.SetWithTTL(ctx, "tok", samplePayload(), -time.Second), ErrInvalidTTL)
	assert.Equal(t, 0, st.Len())
}

func TestMemoryStoreExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(0, WithClock(clock.Now))
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "a", samplePayload(), time.Hour))
	require.NoError(t, st.SetWithTTL(ctx, "b", samplePayload(), 2*time.Hour))
	clock.Advance(time.Hour)

	_, err := st.TakeOnce(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	st.cleanup()
	assert.Equal(t, 1, st.Len())

	// An expired key may be reused.
	require.NoError(t, st.SetWithTTL(ctx, "a", samplePayload(), time.Hour))
}

func TestMemoryStoreConcurrentTakeOnce(t *testing.T) {
	st := NewMemoryStore(0)
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))

	const n = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.TakeOnce(ctx, "tok"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestSealedStoreHidesPayloadAtRest(t *testing.T) {
	inner := NewMemoryStore(0)
	defer inner.Close()
	sealer, err := crypto.NewSealer("k")
	require.NoError(t, err)
	st := NewSealedStore(inner, sealer)
	ctx := context.Background()

	require.NoError(t, st.SetWithTTL(ctx, "tok", samplePayload(), time.Hour))

	inner.mu.Lock()
	raw := inner.entries["tok"].payload.EncryptedPayload
	inner.mu.Unlock()
	assert.NotEqual(t, "cGF5bG9hZA==", raw)

	got, err := st.TakeOnce(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", got.EncryptedPayload)

	_, err = st.TakeOnce(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}
