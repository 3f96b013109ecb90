package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/pkg/db"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    NewSQLStore(database),
	}
}

func TestAcquireWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Symbol: "BTCUSDT", Direction: "LONG"}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			window := 2 * time.Hour

			ok, err := store.Acquire(ctx, key, now, window)
			require.NoError(t, err)
			assert.True(t, ok, "first emission")

			ok, err = store.Acquire(ctx, key, now.Add(time.Hour), window)
			require.NoError(t, err)
			assert.False(t, ok, "inside window")

			ok, err = store.Acquire(ctx, Key{Symbol: "BTCUSDT", Direction: "SHORT"}, now.Add(time.Hour), window)
			require.NoError(t, err)
			assert.True(t, ok, "other direction is independent")

			last, found, err := store.Last(ctx, key)
			require.NoError(t, err)
			assert.True(t, found)
			assert.True(t, last.Equal(now), "rejected acquire must not move the entry")

			ok, err = store.Acquire(ctx, key, now.Add(window), window)
			require.NoError(t, err)
			assert.True(t, ok, "window elapsed")
		})
	}
}

func TestAcquireConcurrent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Symbol: "ETHUSDT", Direction: "SHORT"}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.Acquire(ctx, key, now, time.Hour)
					if err == nil && ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestReleaseRestoresAcquire(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Symbol: "SOLUSDT", Direction: "LONG"}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			window := time.Hour

			ok, err := store.Acquire(ctx, key, now, window)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, store.Release(ctx, key, now))
			_, found, err := store.Last(ctx, key)
			require.NoError(t, err)
			assert.False(t, found)

			ok, err = store.Acquire(ctx, key, now.Add(time.Minute), window)
			require.NoError(t, err)
			assert.True(t, ok, "released key can be taken again on the same bar")
		})
	}
}

func TestReleaseKeepsNewerAcquire(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Symbol: "SOLUSDT", Direction: "SHORT"}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			later := now.Add(2 * time.Hour)

			ok, err := store.Acquire(ctx, key, later, time.Hour)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, store.Release(ctx, key, now))
			last, found, err := store.Last(ctx, key)
			require.NoError(t, err)
			assert.True(t, found)
			assert.True(t, last.Equal(later))
		})
	}
}
