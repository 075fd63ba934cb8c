package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewgate/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore always reports the backend as unreachable.
type failingStore struct{ err error }

func (f failingStore) Take(context.Context, string, time.Time, int, time.Duration) (Record, bool, error) {
	return Record{}, false, f.err
}

func (f failingStore) Ping(context.Context) error { return f.err }

func (f failingStore) Close() error { return nil }

func newTestLimiter(store Store, clock *fakeClock, opts ...Option) *Limiter {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewLimiter(store, NewPolicy(60, models.DefaultEndpointLimits()), time.Minute, opts...)
}

func TestLimiter_LoginScenario(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		assert.True(t, limiter.IsAllowed(ctx, "ip_1.2.3.4", "/api/auth/login"), "attempt %d", i)
	}
	assert.False(t, limiter.IsAllowed(ctx, "ip_1.2.3.4", "/api/auth/login"), "11th attempt")

	clock.Advance(61 * time.Second)
	assert.True(t, limiter.IsAllowed(ctx, "ip_1.2.3.4", "/api/auth/login"))
}

func TestLimiter_DecisionFields(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock)
	ctx := context.Background()

	dec, err := limiter.Allow(ctx, "user_7", "/api/auth/register")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 5, dec.Limit)
	assert.Equal(t, 4, dec.Remaining)
	assert.Equal(t, "/api/auth/register", dec.Bucket)
	assert.Equal(t, testEpoch.Add(time.Minute), dec.ResetAt)
	assert.Zero(t, dec.RetryAfter)

	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, "user_7", "/api/auth/register")
	}

	clock.Advance(20 * time.Second)
	dec, err = limiter.Allow(ctx, "user_7", "/api/auth/register")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
	assert.Equal(t, 40*time.Second, dec.RetryAfter)
}

func TestLimiter_NeverExceedsLimitWithinWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 200; i++ {
		if limiter.IsAllowed(ctx, "ip_9.9.9.9", "/api/review/submit") {
			allowed++
		}
		clock.Advance(100 * time.Millisecond)
	}
	// 200 requests over 20s stay inside one 60s window.
	assert.Equal(t, 10, allowed)
}

func TestLimiter_IdentitiesAndEndpointsAreIsolated(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.IsAllowed(ctx, "user_1", "/api/auth/register")
	}
	assert.False(t, limiter.IsAllowed(ctx, "user_1", "/api/auth/register"))

	assert.True(t, limiter.IsAllowed(ctx, "user_2", "/api/auth/register"))
	assert.True(t, limiter.IsAllowed(ctx, "user_1", "/api/auth/login"))
}

func TestLimiter_NormalizesEndpoint(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := newTestLimiter(store, clock)
	ctx := context.Background()

	limiter.IsAllowed(ctx, "user_1", "/api/auth/login/")
	limiter.IsAllowed(ctx, "user_1", "/api//auth/login")

	rec, ok := store.Get(Key("user_1", "/api/auth/login"))
	require.True(t, ok)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, 1, store.Len())
}

func TestLimiter_CaseVariantsShareOneCounter(t *testing.T) {
	store := NewMemoryStore()
	limiter := newTestLimiter(store, newFakeClock())
	ctx := context.Background()

	variants := []string{"/api/auth/login", "/API/auth/login", "/Api/Auth/Login", "/api/AUTH/LOGIN/"}
	allowed := 0
	for _, v := range variants {
		for i := 0; i < 10; i++ {
			if limiter.IsAllowed(ctx, "ip_1.2.3.4", v) {
				allowed++
			}
		}
	}

	assert.Equal(t, 10, allowed)
	assert.Equal(t, 1, store.Len())
	rec, ok := store.Get(Key("ip_1.2.3.4", "/api/auth/login"))
	require.True(t, ok)
	assert.Equal(t, 10, rec.Count)
}

func TestLimiter_DefaultBucket(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), NewPolicy(3, nil), time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := limiter.Allow(ctx, "ip_1.1.1.1", "/anything")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, DefaultBucket, dec.Bucket)
	}
	assert.False(t, limiter.IsAllowed(ctx, "ip_1.1.1.1", "/anything"))
}

func TestLimiter_StoreErrorIsDistinct(t *testing.T) {
	boom := errors.New("connection refused")
	limiter := newTestLimiter(failingStore{err: boom}, newFakeClock())

	dec, err := limiter.Allow(context.Background(), "user_1", "/api/auth/login")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 10, dec.Limit)
	assert.Equal(t, "/api/auth/login", dec.Bucket)
}

func TestLimiter_FailurePolicy(t *testing.T) {
	store := failingStore{err: errors.New("down")}
	ctx := context.Background()

	open := newTestLimiter(store, newFakeClock())
	assert.Equal(t, FailOpen, open.FailurePolicy())
	assert.True(t, open.IsAllowed(ctx, "user_1", "/x"))

	closed := newTestLimiter(store, newFakeClock(), WithFailurePolicy(FailClosed))
	assert.Equal(t, FailClosed, closed.FailurePolicy())
	assert.False(t, closed.IsAllowed(ctx, "user_1", "/x"))
}

func TestLimiter_IsAllowedLogsStoreErrors(t *testing.T) {
	tests := []struct {
		name   string
		policy FailurePolicy
		want   bool
	}{
		{"open", FailOpen, true},
		{"closed", FailClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			limiter := newTestLimiter(failingStore{err: errors.New("dial tcp: connection refused")}, newFakeClock(),
				WithFailurePolicy(tt.policy), WithLogger(logger))

			assert.Equal(t, tt.want, limiter.IsAllowed(context.Background(), "user_1", "/API/Auth/Login"))

			out := buf.String()
			assert.Contains(t, out, `"level":"ERROR"`)
			assert.Contains(t, out, "Rate limit store unavailable")
			assert.Contains(t, out, `"endpoint":"/api/auth/login"`)
			assert.Contains(t, out, `"failure_policy":"`+tt.name+`"`)
			assert.Contains(t, out, "connection refused")
		})
	}
}

func TestLimiter_ConcurrentRequestsSameKey(t *testing.T) {
	limiter := newTestLimiter(NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	const workers = 100
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.IsAllowed(ctx, "ip_5.5.5.5", "/api/auth/login") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
}

func TestLimiter_Accessors(t *testing.T) {
	store := NewMemoryStore()
	policy := NewPolicy(60, nil)
	limiter := NewLimiter(store, policy, 30*time.Second)

	assert.Equal(t, 30*time.Second, limiter.Window())
	assert.Same(t, policy, limiter.Policy())
	assert.Equal(t, Store(store), limiter.Store())
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("open")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	p, err = ParseFailurePolicy(" Closed ")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)
	assert.Equal(t, "closed", p.String())

	_, err = ParseFailurePolicy("sometimes")
	assert.Error(t, err)
}
