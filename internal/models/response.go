// Package models - Response types written by the gateway itself.
// Upstream responses are proxied untouched; only denials, gateway errors and
// health checks are produced here.
package models

import (
	"time"
)

// RateLimitResponse is the body of every 429 the gateway returns.
// It intentionally carries no counters or configured limits.
type RateLimitResponse struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"` // Whole seconds, coarse hint
}

type ErrorResponse struct {
	Error     string    `json:"error"`                // Error type (always "error")
	Message   string    `json:"message"`              // Human-readable error description
	Code      string    `json:"code,omitempty"`       // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`            // Error occurrence time
	RequestID string    `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Counter store unreachable
	StatusDegraded  = "degraded"  // Serving, but failing open
)

// Error codes written by the gateway.
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrorCodeGatewayTimeout     = "GATEWAY_TIMEOUT"     // 504
)

// RateLimitMessage is the only text callers see on denial.
const RateLimitMessage = "Rate limit exceeded. Please try again later."

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewRateLimitResponse(retryAfter time.Duration) *RateLimitResponse {
	return &RateLimitResponse{
		Message:    RateLimitMessage,
		RetryAfter: RetryAfterSeconds(retryAfter),
	}
}

// RetryAfterSeconds rounds d up to whole seconds with a floor of one second.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
