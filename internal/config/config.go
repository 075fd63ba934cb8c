package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reviewgate/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REVIEWGATE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors token bucket settings that fixed windows do not
// have, so stale operator configs are reported instead of silently ignored.
type deprecatedConfig struct {
	Security struct {
		RateLimit struct {
			RequestsPerMinute int `yaml:"requests_per_minute"`
			BurstSize         int `yaml:"burst_size"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
}

// warnDeprecatedKeys logs a warning for each unsupported key found in the YAML data.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.RateLimit.RequestsPerMinute != 0 {
		slog.Warn("Config key is not supported; use default_limit with window.", "config_key", "security.rate_limit.requests_per_minute")
	}
	if dep.Security.RateLimit.BurstSize != 0 {
		slog.Warn("Config key is not supported; fixed windows have no burst allowance.", "config_key", "security.rate_limit.burst_size")
	}
}

// loadFromFile loads configuration from a YAML file. A file that sets
// endpoint_limits replaces the built-in table rather than merging into it.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)

	defaults := config.Security.RateLimit.EndpointLimits
	config.Security.RateLimit.EndpointLimits = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if config.Security.RateLimit.EndpointLimits == nil {
		config.Security.RateLimit.EndpointLimits = defaults
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Malformed numbers and durations are ignored. The endpoint table is the
// exception: a malformed entry fails the load.
func loadFromEnvironment(config *models.Config) error {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool("CORS_ENABLED", &config.Server.CORS.Enabled)
	envList("CORS_ALLOWED_ORIGINS", &config.Server.CORS.AllowedOrigins)

	// Upstream
	envString("UPSTREAM_URL", &config.Upstream.URL)
	envDuration("UPSTREAM_TIMEOUT", &config.Upstream.Timeout)

	// Counter store
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("REDIS_ADDR", &config.Storage.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Storage.Redis.Password)
	envInt("REDIS_DB", &config.Storage.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Storage.Redis.PoolSize)
	envString("REDIS_KEY_PREFIX", &config.Storage.Redis.KeyPrefix)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration
	envString("JWT_SECRET", &config.Security.JWT.Secret)
	envString("JWT_ISSUER", &config.Security.JWT.Issuer)
	envString("JWT_AUDIENCE", &config.Security.JWT.Audience)

	rl := &config.Security.RateLimit
	envBool("RATE_LIMIT_ENABLED", &rl.Enabled)
	envInt("RATE_LIMIT_DEFAULT", &rl.DefaultLimit)
	envDuration("RATE_LIMIT_WINDOW", &rl.Window)
	envString("RATE_LIMIT_FAILURE_POLICY", &rl.FailurePolicy)
	envString("RATE_LIMIT_HEALTH_PATH", &rl.HealthPath)
	envBool("RATE_LIMIT_TRUST_PROXY_HEADERS", &rl.TrustProxyHeaders)
	envDuration("RATE_LIMIT_CLEANUP_INTERVAL", &rl.CleanupInterval)
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_ENDPOINTS"); v != "" {
		limits, err := ParseEndpointLimits(v)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_ENDPOINTS: %w", EnvPrefix, err)
		}
		rl.EndpointLimits = limits
	}

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Tracing
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	if v := os.Getenv(EnvPrefix + "TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Observability.Tracing.SampleRate = f
		}
	}

	return nil
}

// ParseEndpointLimits parses "path=limit,path=limit". Whitespace around
// entries is ignored; an empty entry is an error.
func ParseEndpointLimits(s string) (map[string]int, error) {
	limits := make(map[string]int)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		prefix, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not path=limit", entry)
		}
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return nil, fmt.Errorf("entry %q has an empty path", entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("entry %q has an invalid limit: %w", entry, err)
		}
		limits[prefix] = limit
	}
	return limits, nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(name string, dst *[]string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Storage.Type = models.StorageTypeRedis
	config.Storage.Redis.Addr = "localhost:6379"
	config.Security.JWT.Secret = "change-me-to-the-api-jwt-secret"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
