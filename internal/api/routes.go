package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"reviewgate/internal/auth"
	"reviewgate/internal/models"
)

const proxyRouteName = "proxy"

// ServedLocally reports whether the route matched for r is answered by the
// gateway rather than forwarded upstream. It is only meaningful inside the
// router's middleware chain.
func ServedLocally(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	return route != nil && route.GetName() != proxyRouteName
}

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					!strings.HasPrefix(r.URL.Path, "/health/") &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithAuth attaches the bearer token principal to each request so the rate
// limiter can key signed-in callers by user id.
func WithAuth(verifier *auth.Verifier) RouteOption {
	return func(r *mux.Router) {
		r.Use(auth.OptionalAuth(verifier))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the gateway routes. Options are applied after the
// built-in middleware, in the order given, so pass WithAuth before
// WithRateLimiter.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET", "HEAD").Name("health")
	router.HandleFunc("/health/ready", handlers.HealthCheck).Methods("GET", "HEAD").Name("health-ready")
	router.HandleFunc("/health/live", handlers.Live).Methods("GET", "HEAD").Name("health-live")

	router.PathPrefix("/").HandlerFunc(handlers.Proxy).Name(proxyRouteName)

	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	router.Use(securityHeadersMiddleware)
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	for _, opt := range opts {
		opt(router)
	}

	return router
}
