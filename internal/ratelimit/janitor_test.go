package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJanitor(t *testing.T) {
	assert.NotNil(t, NewJanitor(NewMemoryStore(), time.Minute, nil))
	assert.Nil(t, NewJanitor(NewMemoryStore(), 0, nil), "non-positive interval")

	mr := miniredis.RunT(t)
	redisStore := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	defer redisStore.Close()
	assert.Nil(t, NewJanitor(redisStore, time.Minute, nil), "redis expires keys itself")
}

func TestJanitor_PruneOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Take(ctx, "a", testEpoch, 1, time.Minute)
	store.Take(ctx, "b", testEpoch, 1, time.Minute)

	j := NewJanitor(store, time.Minute, nil)
	j.now = func() time.Time { return testEpoch.Add(2 * time.Minute) }

	assert.Equal(t, 2, j.PruneOnce(ctx))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, j.PruneOnce(ctx))
}

func TestJanitor_PruneOnceSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "janitor.db"))
	require.NoError(t, err)
	defer store.Close()

	store.Take(ctx, "a", testEpoch, 1, time.Minute)

	j := NewJanitor(store, time.Minute, nil)
	j.now = func() time.Time { return testEpoch.Add(time.Hour) }
	assert.Equal(t, 1, j.PruneOnce(ctx))
}

func TestJanitor_StartStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	bg := context.Background()
	// Already expired relative to the real clock.
	store.Take(bg, "stale", time.Now().Add(-time.Hour), 1, time.Minute)

	j := NewJanitor(store, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(bg)
	j.Start(ctx)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		j.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
