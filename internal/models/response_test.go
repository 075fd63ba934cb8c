package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimitResponse(t *testing.T) {
	resp := NewRateLimitResponse(42 * time.Second)
	assert.Equal(t, RateLimitMessage, resp.Message)
	assert.Equal(t, 42, resp.RetryAfter)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Rate limit exceeded. Please try again later.","retryAfter":42}`, string(data))
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in       time.Duration
		expected int
	}{
		{0, 1},
		{-5 * time.Second, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{59*time.Second + time.Nanosecond, 60},
		{time.Minute, 60},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RetryAfterSeconds(tt.in), tt.in.String())
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("Upstream service unavailable", ErrorCodeBadGateway)

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "Upstream service unavailable", resp.Message)
	assert.Equal(t, ErrorCodeBadGateway, resp.Code)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Second)
	assert.Empty(t, resp.RequestID)
}

func TestNewHealthCheckResponse(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.NotNil(t, resp.Components)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Second)
}

func TestHealthCheckResponse_AddComponent(t *testing.T) {
	resp := NewHealthCheckResponse(StatusDegraded)
	resp.AddComponent("ratelimit", StatusDegraded, "Counter store unreachable")

	require.Contains(t, resp.Components, "ratelimit")
	c := resp.Components["ratelimit"]
	assert.Equal(t, StatusDegraded, c.Status)
	assert.Equal(t, "Counter store unreachable", c.Message)
	assert.False(t, c.Timestamp.IsZero())
}

func TestErrorCodeConstants(t *testing.T) {
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", ErrorCodeRateLimitExceeded)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ErrorCodeServiceUnavailable)
	assert.Equal(t, "BAD_GATEWAY", ErrorCodeBadGateway)
	assert.Equal(t, "GATEWAY_TIMEOUT", ErrorCodeGatewayTimeout)
}
