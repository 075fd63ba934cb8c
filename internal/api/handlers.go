package api

import (
	"context"
	"net/http"
	"time"

	"reviewgate/internal/models"
	"reviewgate/internal/ratelimit"
	"reviewgate/internal/version"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether the shared counter store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers serves the endpoints the gateway answers itself. Everything else
// goes to the upstream handler.
type Handlers struct {
	store    Pinger
	policy   ratelimit.FailurePolicy
	upstream http.Handler
	version  version.Info
	started  time.Time
}

// NewHandlers creates a new handlers instance. store may be nil when rate
// limiting is disabled.
func NewHandlers(store Pinger, policy ratelimit.FailurePolicy, upstream http.Handler, ver version.Info) *Handlers {
	return &Handlers{
		store:    store,
		policy:   policy,
		upstream: upstream,
		version:  ver,
		started:  time.Now(),
	}
}

// HealthCheck reports gateway health including the counter store.
// GET /health, GET /health/ready
//
// An unreachable store is fatal only under fail-closed, where every limited
// request would be rejected. Under fail-open the gateway keeps serving and
// reports itself degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()

	statusCode := http.StatusOK
	switch {
	case h.store == nil:
		response.AddComponent("ratelimit", models.StatusHealthy, "Rate limiting disabled")
	default:
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := h.store.Ping(ctx)
		cancel()

		switch {
		case err == nil:
			response.AddComponent("ratelimit", models.StatusHealthy, "Counter store reachable")
		case h.policy == ratelimit.FailClosed:
			response.Status = models.StatusUnhealthy
			response.AddComponent("ratelimit", models.StatusUnhealthy, "Counter store unreachable, requests are rejected")
			statusCode = http.StatusServiceUnavailable
		default:
			response.Status = models.StatusDegraded
			response.AddComponent("ratelimit", models.StatusDegraded, "Counter store unreachable, requests are not limited")
		}
	}

	writeJSONResponse(w, statusCode, response)
}

// Live reports that the process is serving; it checks nothing else.
// GET /health/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()
	response.Components = nil
	writeJSONResponse(w, http.StatusOK, response)
}

// Proxy forwards the request to the upstream API.
func (h *Handlers) Proxy(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
		return
	}
	h.upstream.ServeHTTP(w, r)
}
