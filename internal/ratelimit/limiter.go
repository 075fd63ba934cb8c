// Package ratelimit enforces per-endpoint fixed window request limits for
// each client identity. A Limiter resolves the limit for an endpoint from an
// immutable Policy and delegates the atomic check-and-increment of the
// per-key RateRecord to a Store (in-process memory, Redis, PostgreSQL or
// SQLite). The package also provides the HTTP middleware that resolves the
// caller identity and produces the 429 denial contract.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrStorageUnavailable wraps every error returned by a Store. Callers use it
// to tell a storage fault apart from a normal denial.
var ErrStorageUnavailable = errors.New("rate limit storage unavailable")

// Record is the fixed window state kept for one (identity, endpoint) key.
type Record struct {
	Count   int       // Requests observed in the current window
	ResetAt time.Time // When the current window expires
}

// Store owns every Record. Implementations must be safe for concurrent use
// and must make Take atomic per key.
type Store interface {
	// Take applies one request against key. If no record exists, or the
	// record's window ended at or before now, the record is replaced with
	// Count=1 and ResetAt=now+window and the request is allowed. Otherwise
	// the request is denied without incrementing when Count >= limit, and
	// allowed with Count incremented when below the limit. The returned
	// Record is the state after the call.
	Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Record, bool, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases connections held by the store.
	Close() error
}

// Pruner is implemented by stores that cannot expire records on their own.
type Pruner interface {
	// Prune deletes records whose window ended at or before now and returns
	// how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// FailurePolicy decides the outcome of a request when the Store fails.
type FailurePolicy int

const (
	// FailOpen allows the request when the counter store is unavailable.
	FailOpen FailurePolicy = iota
	// FailClosed denies the request when the counter store is unavailable.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailurePolicy accepts "open" or "closed" (case-insensitive).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy: %q", s)
	}
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int           // Requests per window for the resolved bucket
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the current window expires
	RetryAfter time.Duration // Time until the window resets (denials only)
	Bucket     string        // Matched policy key, or "default"
}

// Limiter decides whether a request for an (identity, endpoint) pair may
// proceed. It has no goroutines of its own; window expiry is evaluated
// lazily by the Store on access.
type Limiter struct {
	store   Store
	policy  *Policy
	window  time.Duration
	failure FailurePolicy
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailurePolicy sets the behavior applied by IsAllowed and the HTTP
// middleware when the store fails. The default is FailOpen.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) { l.failure = p }
}

// WithLogger sets the logger IsAllowed reports storage failures to. The
// default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a Limiter counting requests in fixed windows of the
// given duration, uniform across endpoints.
func NewLimiter(store Store, policy *Policy, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		policy:  policy,
		window:  window,
		failure: FailOpen,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Window returns the fixed window duration.
func (l *Limiter) Window() time.Duration { return l.window }

// FailurePolicy returns the configured storage failure policy.
func (l *Limiter) FailurePolicy() FailurePolicy { return l.failure }

// Policy returns the endpoint policy in use.
func (l *Limiter) Policy() *Policy { return l.policy }

// Store returns the backing counter store.
func (l *Limiter) Store() Store { return l.store }

// Allow applies one request for identity against endpoint. A denial is a
// normal result, not an error. The error is non-nil only when the store
// failed, in which case it wraps ErrStorageUnavailable and the returned
// Decision carries the resolved Limit and Bucket but Allowed=false.
func (l *Limiter) Allow(ctx context.Context, identity, endpoint string) (Decision, error) {
	endpoint = NormalizeEndpoint(endpoint)
	limit, bucket := l.policy.Resolve(endpoint)
	dec := Decision{Limit: limit, Bucket: bucket}

	now := l.now()
	rec, allowed, err := l.store.Take(ctx, Key(identity, endpoint), now, limit, l.window)
	if err != nil {
		return dec, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	dec.Allowed = allowed
	dec.ResetAt = rec.ResetAt
	if allowed {
		dec.Remaining = max(limit-rec.Count, 0)
		return dec, nil
	}

	dec.RetryAfter = rec.ResetAt.Sub(now)
	if dec.RetryAfter <= 0 {
		dec.RetryAfter = time.Second
	}
	return dec, nil
}

// IsAllowed is Allow reduced to a boolean, with the failure policy applied
// to storage errors. Each storage error is logged at error level; callers
// that need to act on the fault should use Allow.
func (l *Limiter) IsAllowed(ctx context.Context, identity, endpoint string) bool {
	dec, err := l.Allow(ctx, identity, endpoint)
	if err != nil {
		l.logger.ErrorContext(ctx, "Rate limit store unavailable",
			"identity", identity,
			"endpoint", NormalizeEndpoint(endpoint),
			"failure_policy", l.failure.String(),
			"error", err,
		)
		return l.failure == FailOpen
	}
	return dec.Allowed
}
