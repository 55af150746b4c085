package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, time.February, 3, 9, 30, 0, 0, time.UTC)

type storeFactory func(t *testing.T) (Store, func(time.Duration))

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) (Store, func(time.Duration)) {
			return NewMemoryStore(), func(time.Duration) {}
		},
		"redis": func(t *testing.T) (Store, func(time.Duration)) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client, "test:idem:"), mr.FastForward
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store, _ := factory(t)
			ctx := context.Background()

			outcome, _, err := store.Begin(ctx, "k|app", "fp-1", fixedTime, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, Proceed, outcome)

			outcome, _, err = store.Begin(ctx, "k|app", "fp-1", fixedTime, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, InFlight, outcome)

			_, _, err = store.Begin(ctx, "k|app", "fp-2", fixedTime, time.Hour)
			assert.ErrorIs(t, err, ErrFingerprintMismatch)

			header := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"11"}}
			require.NoError(t, store.Complete(ctx, "k|app", "fp-1", Response{Status: http.StatusCreated, Header: header, Body: []byte(`{"ok":true}`)}, fixedTime, time.Hour))
			assert.ErrorIs(t, store.Complete(ctx, "k|app", "fp-2", Response{}, fixedTime, time.Hour), ErrFingerprintMismatch)

			outcome, record, err := store.Begin(ctx, "k|app", "fp-1", fixedTime.Add(time.Minute), time.Hour)
			require.NoError(t, err)
			assert.Equal(t, Replay, outcome)
			assert.Equal(t, http.StatusCreated, record.StatusCode)
			assert.Equal(t, `{"ok":true}`, string(record.Body))
			assert.Equal(t, []string{"application/json"}, record.Header["Content-Type"])
			assert.NotContains(t, record.Header, "Content-Length")
		})
	}
}

func TestStoreAbandonOnlyOwnFingerprint(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store, _ := factory(t)
			ctx := context.Background()

			_, _, err := store.Begin(ctx, "k", "fp-1", fixedTime, time.Hour)
			require.NoError(t, err)
			require.NoError(t, store.Abandon(ctx, "k", "fp-other"))

			outcome, _, err := store.Begin(ctx, "k", "fp-1", fixedTime, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, InFlight, outcome)

			require.NoError(t, store.Abandon(ctx, "k", "fp-1"))
			outcome, _, err = store.Begin(ctx, "k", "fp-2", fixedTime, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, Proceed, outcome)
		})
	}
}

func TestStoreExpiredKeyIsClaimedAgain(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store, advance := factory(t)
			ctx := context.Background()

			_, _, err := store.Begin(ctx, "k", "fp-1", fixedTime, time.Minute)
			require.NoError(t, err)
			advance(2 * time.Minute)

			outcome, record, err := store.Begin(ctx, "k", "fp-2", fixedTime.Add(2*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, Proceed, outcome)
			assert.Equal(t, "fp-2", record.Fingerprint)
		})
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, _, err := store.Begin(ctx, key, "fp", fixedTime, time.Minute)
		require.NoError(t, err)
	}
	_, _, err := store.Begin(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour)
	require.NoError(t, err)

	removed, err := store.Sweep(ctx, fixedTime.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	removed, err = store.Sweep(ctx, fixedTime.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	outcome, _, err := store.Begin(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, InFlight, outcome)
}

func TestRedisStoreKeyTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "test:idem:")
	ctx := context.Background()

	_, _, err := store.Begin(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("test:idem:"+documentID("k")))

	require.NoError(t, store.Complete(ctx, "k", "fp", Response{Status: http.StatusOK}, fixedTime, 2*time.Hour))
	assert.Equal(t, 2*time.Hour, mr.TTL("test:idem:"+documentID("k")))

	removed, err := store.Sweep(ctx, fixedTime, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
