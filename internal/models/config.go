// Package models - Gateway configuration and operational settings.
// This file defines the configuration structures for every gateway component.
//
// Configuration layout:
// - Server: HTTP listener, TLS and CORS
// - Upstream: the CodeReviewer API the gateway forwards to
// - Storage: where rate limit counters live (memory, redis, postgres, sqlite)
// - Security: JWT verification and the rate limit policy
// - Logging, Metrics, Observability: ambient concerns
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Counter store type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Failure policy constants applied when the counter store is unreachable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// DefaultPolicyKey is the reserved endpoint_limits key for the fallback limit.
const DefaultPolicyKey = "default"

// Config is the root configuration structure containing all gateway settings.
// It is loaded once at startup and treated as immutable afterwards.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// UpstreamConfig points at the CodeReviewer API behind the gateway.
type UpstreamConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" json:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// JWTConfig mirrors the token parameters used by the CodeReviewer API.
// An empty secret disables principal resolution; every caller is then
// bucketed by address.
type JWTConfig struct {
	Secret   string `yaml:"secret" json:"-"`
	Issuer   string `yaml:"issuer" json:"issuer"`
	Audience string `yaml:"audience" json:"audience"`
}

// RateLimitConfig holds the per-endpoint fixed window policy.
//
// EndpointLimits maps a path prefix to a requests-per-window limit. The
// reserved "default" key, when present, overrides DefaultLimit.
type RateLimitConfig struct {
	Enabled           bool           `yaml:"enabled" json:"enabled"`
	DefaultLimit      int            `yaml:"default_limit" json:"default_limit"`
	EndpointLimits    map[string]int `yaml:"endpoint_limits" json:"endpoint_limits"`
	Window            time.Duration  `yaml:"window" json:"window"`
	FailurePolicy     string         `yaml:"failure_policy" json:"failure_policy"`
	HealthPath        string         `yaml:"health_path" json:"health_path"`
	TrustProxyHeaders bool           `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	CleanupInterval   time.Duration  `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultEndpointLimits is the per-minute policy the CodeReviewer API ships
// with: tight limits on credential and submission endpoints, 60/min elsewhere.
func DefaultEndpointLimits() map[string]int {
	return map[string]int{
		"/api/auth/register":               5,
		"/api/auth/login":                  10,
		"/api/auth/verify-email":           10,
		"/api/auth/resend-verification":    3,
		"/api/auth/request-password-reset": 3,
		"/api/auth/reset-password":         5,
		"/api/review/submit":               10,
	}
}

// NewDefaultConfig creates a configuration that runs out of the box against a
// local API on :5000 with in-memory counters.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  90 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         86400,
			},
		},
		Upstream: UpstreamConfig{
			URL:     "http://localhost:5000",
			Timeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "reviewgate",
			},
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:   "CodeReviewer.Api",
				Audience: "CodeReviewer.Client",
			},
			RateLimit: RateLimitConfig{
				Enabled:         true,
				DefaultLimit:    60,
				EndpointLimits:  DefaultEndpointLimits(),
				Window:          time.Minute,
				FailurePolicy:   FailOpen,
				HealthPath:      "/health",
				CleanupInterval: 5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "reviewgate",
			Tracing: TracingConfig{
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.URL == "" {
		return errors.New("upstream URL is required")
	}
	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream URL must be http or https, got %q", uc.URL)
	}
	if u.Host == "" {
		return errors.New("upstream URL must include a host")
	}
	if uc.Timeout < 0 {
		return errors.New("upstream timeout cannot be negative")
	}
	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
		if stc.Redis.DB < 0 {
			return errors.New("redis db cannot be negative")
		}
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (sec *SecurityConfig) Validate() error {
	if sec.JWT.Secret != "" && sec.JWT.Issuer == "" {
		return errors.New("jwt issuer is required when a jwt secret is set")
	}
	return sec.RateLimit.Validate()
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if rl.DefaultLimit <= 0 {
		return errors.New("default limit must be positive")
	}

	if rl.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}

	// Redis expiries are set in whole milliseconds.
	if rl.Window < time.Millisecond || rl.Window%time.Millisecond != 0 {
		return fmt.Errorf("rate limit window must be a whole number of milliseconds: %s", rl.Window)
	}

	for prefix, limit := range rl.EndpointLimits {
		if strings.TrimSpace(prefix) == "" {
			return errors.New("endpoint limit prefix cannot be empty")
		}
		if limit <= 0 {
			return fmt.Errorf("endpoint limit for %s must be positive", prefix)
		}
	}

	if rl.FailurePolicy != FailOpen && rl.FailurePolicy != FailClosed {
		return fmt.Errorf("invalid failure policy: %s", rl.FailurePolicy)
	}

	if rl.HealthPath != "" && !strings.HasPrefix(rl.HealthPath, "/") {
		return errors.New("health path must start with /")
	}

	if rl.CleanupInterval < 0 {
		return errors.New("cleanup interval cannot be negative")
	}

	return nil
}

// EffectiveDefaultLimit returns the "default" entry of EndpointLimits when
// configured, otherwise DefaultLimit.
func (rl *RateLimitConfig) EffectiveDefaultLimit() int {
	if v, ok := rl.EndpointLimits[DefaultPolicyKey]; ok {
		return v
	}
	return rl.DefaultLimit
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
