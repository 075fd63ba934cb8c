package ratelimit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewgate/internal/models"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// storeFactory builds a fresh store. The returned advance func moves any
// server-side clock (miniredis) forward; stores that only use the now
// argument return a no-op.
type storeFactory func(t *testing.T) (Store, func(time.Duration))

func noAdvance(time.Duration) {}

func testStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()
	ctx := context.Background()
	window := time.Minute

	t.Run("first request opens a window", func(t *testing.T) {
		store, _ := newStore(t)

		rec, allowed, err := store.Take(ctx, "k", testEpoch, 5, window)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, rec.Count)
		assert.WithinDuration(t, testEpoch.Add(window), rec.ResetAt, time.Millisecond)
	})

	t.Run("denies at limit without incrementing", func(t *testing.T) {
		store, _ := newStore(t)

		for i := 1; i <= 3; i++ {
			rec, allowed, err := store.Take(ctx, "k", testEpoch, 3, window)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i)
			assert.Equal(t, i, rec.Count)
		}

		for i := 0; i < 3; i++ {
			rec, allowed, err := store.Take(ctx, "k", testEpoch, 3, window)
			require.NoError(t, err)
			assert.False(t, allowed)
			assert.Equal(t, 3, rec.Count)
			assert.WithinDuration(t, testEpoch.Add(window), rec.ResetAt, time.Millisecond)
		}
	})

	t.Run("expired window restarts at one", func(t *testing.T) {
		store, advance := newStore(t)

		for i := 0; i < 3; i++ {
			_, _, err := store.Take(ctx, "k", testEpoch, 2, window)
			require.NoError(t, err)
		}

		advance(window + time.Second)
		later := testEpoch.Add(window + time.Second)

		rec, allowed, err := store.Take(ctx, "k", later, 2, window)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, rec.Count)
		assert.WithinDuration(t, later.Add(window), rec.ResetAt, time.Millisecond)
	})

	t.Run("keys are independent", func(t *testing.T) {
		store, _ := newStore(t)

		_, _, err := store.Take(ctx, "a", testEpoch, 1, window)
		require.NoError(t, err)
		_, allowed, err := store.Take(ctx, "a", testEpoch, 1, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		rec, allowed, err := store.Take(ctx, "b", testEpoch, 1, window)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, rec.Count)
	})

	t.Run("concurrent takes never exceed the limit", func(t *testing.T) {
		store, _ := newStore(t)

		const workers, limit = 40, 10
		var allowedCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, allowed, err := store.Take(ctx, "hot", testEpoch, limit, window)
				if assert.NoError(t, err) && allowed {
					allowedCount.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), allowedCount.Load())

		_, allowed, err := store.Take(ctx, "hot", testEpoch, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("ping", func(t *testing.T) {
		store, _ := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})
}

func newMiniredisStore(t *testing.T) (Store, func(time.Duration)) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewStore(context.Background(), models.StorageConfig{
		Type:  models.StorageTypeRedis,
		Redis: models.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr.FastForward
}

func newSQLiteTestStore(t *testing.T) (Store, func(time.Duration)) {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ratelimit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, noAdvance
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(ctx, models.StorageConfig{Type: models.StorageTypeMemory})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("empty type falls back to memory", func(t *testing.T) {
		store, err := NewStore(ctx, models.StorageConfig{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		store, _ := newMiniredisStore(t)
		assert.IsType(t, &RedisStore{}, store)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewStore(ctx, models.StorageConfig{
			Type:  models.StorageTypeRedis,
			Redis: models.RedisConfig{Addr: addr},
		})
		assert.Error(t, err)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := NewStore(ctx, models.StorageConfig{
			Type:     models.StorageTypeSQLite,
			Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "counters.db")},
		})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &SQLiteStore{}, store)
	})

	t.Run("sqlite requires dsn", func(t *testing.T) {
		_, err := NewStore(ctx, models.StorageConfig{Type: models.StorageTypeSQLite})
		assert.Error(t, err)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		_, err := NewStore(ctx, models.StorageConfig{Type: models.StorageTypePostgres})
		assert.Error(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStore(ctx, models.StorageConfig{Type: "etcd"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported storage type")
	})
}

func TestSupportedStores(t *testing.T) {
	assert.ElementsMatch(t, []string{"memory", "redis", "postgres", "sqlite"}, SupportedStores())
}

func TestKeysAreScopedPerIdentityAndEndpoint(t *testing.T) {
	keys := map[string]struct{}{}
	for _, id := range []string{"user_1", "user_2", "ip_10.0.0.1"} {
		for _, ep := range []string{"/api/auth/login", "/api/review/submit"} {
			keys[Key(id, ep)] = struct{}{}
		}
	}
	assert.Len(t, keys, 6)
	assert.Equal(t, "ratelimit:user_1:/api/auth/login", Key("user_1", "/api/auth/login"))
}

func BenchmarkMemoryStoreTake(b *testing.B) {
	store := NewMemoryStore()
	ctx := context.Background()
	keys := make([]string, 256)
	for i := range keys {
		keys[i] = fmt.Sprintf("ratelimit:ip_10.0.0.%d:/api/review", i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			store.Take(ctx, keys[i%len(keys)], testEpoch, 1000, time.Minute)
			i++
		}
	})
}
