package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reviewgate/internal/api"
	"reviewgate/internal/auth"
	"reviewgate/internal/config"
	"reviewgate/internal/logger"
	"reviewgate/internal/models"
	"reviewgate/internal/observability"
	"reviewgate/internal/proxy"
	"reviewgate/internal/ratelimit"
	"reviewgate/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
	writeExample = flag.String("write-example", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run wires the gateway and blocks until shutdown. It returns the process
// exit code so deferred cleanup runs before main exits.
func run() int {
	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return 0
	}
	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			return 1
		}
		return 0
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upstream, err := proxy.New(cfg.Upstream)
	if err != nil {
		slog.Error("Failed to initialize upstream proxy", "error", err)
		return 1
	}

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	var (
		store   ratelimit.Store
		janitor *ratelimit.Janitor
		policy  = ratelimit.FailOpen
	)
	if cfg.Security.RateLimit.Enabled {
		var limiter *ratelimit.Limiter
		store, limiter, err = initializeRateLimiting(ctx, cfg)
		if err != nil {
			slog.Error("Failed to initialize rate limiting", "error", err)
			return 1
		}
		defer store.Close()
		policy = limiter.FailurePolicy()

		var recorder ratelimit.Recorder
		if cfg.Metrics.Enabled {
			decisions, err := observability.NewDecisionRecorder()
			if err != nil {
				slog.Error("Failed to create decision recorder", "error", err)
				return 1
			}
			recorder = decisions
		}

		rlCfg := cfg.Security.RateLimit
		routeOpts = append(routeOpts,
			api.WithAuth(auth.NewVerifier(cfg.Security.JWT)),
			api.WithRateLimiter(ratelimit.Middleware(limiter, ratelimit.Options{
				HealthPath: rlCfg.HealthPath,
				Local:      api.ServedLocally,
				Identity:   ratelimit.DefaultIdentity(auth.UserID, rlCfg.TrustProxyHeaders),
				Recorder:   recorder,
				Logger:     slog.Default(),
			})),
		)

		janitor = ratelimit.NewJanitor(store, rlCfg.CleanupInterval, slog.Default())
		if janitor != nil {
			janitor.Start(ctx)
		}

		slog.Info("Rate limiting enabled",
			"store", cfg.Storage.Type,
			"default_limit", limiter.Policy().DefaultLimit(),
			"endpoint_limits", len(rlCfg.EndpointLimits),
			"window", limiter.Window(),
			"failure_policy", policy.String(),
		)
	} else {
		slog.Warn("Rate limiting disabled")
	}

	handlers := api.NewHandlers(store, policy, upstream, ver)
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "upstream", cfg.Upstream.URL, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server")
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		exitCode = 1
	}
	stop()

	// Create a deadline to wait for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if janitor != nil {
		janitor.Wait()
	}

	slog.Info("Server shutdown complete")
	return exitCode
}

// initializeRateLimiting opens the configured counter store, wraps it with
// instrumentation when metrics are on, and builds the limiter over it.
func initializeRateLimiting(ctx context.Context, cfg *models.Config) (ratelimit.Store, *ratelimit.Limiter, error) {
	rlCfg := cfg.Security.RateLimit

	failure, err := ratelimit.ParseFailurePolicy(rlCfg.FailurePolicy)
	if err != nil {
		return nil, nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	store, err := ratelimit.NewStore(openCtx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s counter store: %w", cfg.Storage.Type, err)
	}

	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.NewInstrumentedStore(store)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("instrument counter store: %w", err)
		}
		store = instrumented
	}

	policy := ratelimit.NewPolicy(rlCfg.EffectiveDefaultLimit(), rlCfg.EndpointLimits)
	limiter := ratelimit.NewLimiter(store, policy, rlCfg.Window, ratelimit.WithFailurePolicy(failure))
	return store, limiter, nil
}
