package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reviewgate/internal/models"
)

// Outcome labels a rate limit decision for metrics.
type Outcome string

const (
	OutcomeAllowed      Outcome = "allowed"
	OutcomeDenied       Outcome = "denied"
	OutcomeFailedOpen   Outcome = "failed_open"
	OutcomeFailedClosed Outcome = "failed_closed"
)

// Recorder receives one call per request that reaches the limiter.
type Recorder interface {
	RecordDecision(ctx context.Context, bucket string, outcome Outcome)
}

// Options configures Middleware.
type Options struct {
	// HealthPath and everything below it bypass the limiter. Empty disables
	// the bypass.
	HealthPath string
	// Local reports whether the gateway answers r itself. When set, only
	// health path requests it returns true for bypass the limiter; a health
	// path request headed upstream is counted like any other.
	Local func(r *http.Request) bool
	// Identity resolves the caller; defaults to DefaultIdentity(nil, false).
	Identity IdentityFunc
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

// Middleware enforces limiter on every request except the health check path.
// Denied requests get 429 with a JSON {"message","retryAfter"} body and a
// Retry-After header; they never reach next. Storage failures follow the
// limiter's failure policy.
func Middleware(limiter *Limiter, opts Options) func(http.Handler) http.Handler {
	if opts.Identity == nil {
		opts.Identity = DefaultIdentity(nil, false)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	denials := &rate.Sometimes{First: 10, Interval: 10 * time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsHealthPath(r.URL.Path, opts.HealthPath) && (opts.Local == nil || opts.Local(r)) {
				next.ServeHTTP(w, r)
				return
			}

			identity := opts.Identity(r)
			if identity == "" {
				identity = UnknownIdentity
			}
			endpoint := NormalizeEndpoint(r.URL.Path)

			dec, err := limiter.Allow(r.Context(), identity, endpoint)
			if err != nil {
				if limiter.FailurePolicy() == FailClosed {
					opts.Logger.Error("Rate limit store unavailable, rejecting request",
						"identity", identity,
						"endpoint", endpoint,
						"error", err,
					)
					record(r.Context(), opts.Recorder, dec.Bucket, OutcomeFailedClosed)
					writeJSON(w, http.StatusServiceUnavailable,
						models.NewErrorResponse("Service temporarily unavailable", models.ErrorCodeServiceUnavailable))
					return
				}

				opts.Logger.Error("Rate limit store unavailable, allowing request",
					"identity", identity,
					"endpoint", endpoint,
					"error", err,
				)
				record(r.Context(), opts.Recorder, dec.Bucket, OutcomeFailedOpen)
				next.ServeHTTP(w, r)
				return
			}

			if !dec.Allowed {
				record(r.Context(), opts.Recorder, dec.Bucket, OutcomeDenied)
				resp := models.NewRateLimitResponse(dec.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
				writeJSON(w, http.StatusTooManyRequests, resp)

				denials.Do(func() {
					opts.Logger.Warn("Rate limit exceeded",
						"identity", identity,
						"endpoint", endpoint,
						"bucket", dec.Bucket,
						"retry_after", resp.RetryAfter,
					)
				})
				return
			}

			record(r.Context(), opts.Recorder, dec.Bucket, OutcomeAllowed)
			next.ServeHTTP(w, r)
		})
	}
}

// IsHealthPath reports whether p equals healthPath or lies below it, compared
// case-insensitively on whole path segments.
func IsHealthPath(p, healthPath string) bool {
	if healthPath == "" {
		return false
	}
	healthPath = strings.TrimSuffix(healthPath, "/")
	if len(p) < len(healthPath) || !strings.EqualFold(p[:len(healthPath)], healthPath) {
		return false
	}
	return len(p) == len(healthPath) || p[len(healthPath)] == '/'
}

func record(ctx context.Context, rec Recorder, bucket string, outcome Outcome) {
	if rec != nil {
		rec.RecordDecision(ctx, bucket, outcome)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
