package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/observability"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "ACESSO"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Storage       StorageConfig       `yaml:"storage" envconfig:"STORAGE"`
	Redis         RedisConfig         `yaml:"redis" envconfig:"REDIS"`
	Identity      IdentityConfig      `yaml:"identity" envconfig:"IDENTITY"`
	RBAC          RBACConfig          `yaml:"rbac" envconfig:"RBAC"`
	Audit         AuditConfig         `yaml:"audit" envconfig:"AUDIT"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RateLimit is the number of requests per minute per client IP, 0 disables it
	RateLimit   int  `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Development bool `yaml:"development" envconfig:"DEVELOPMENT"`
	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed when recording the client address
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
}

// StorageConfig selects and tunes the document store
type StorageConfig struct {
	// Driver is one of memory, postgres, sqlite
	Driver      string        `yaml:"driver" envconfig:"DRIVER"`
	DSN         string        `yaml:"dsn" envconfig:"DSN"`
	MaxConns    int           `yaml:"max_conns" envconfig:"MAX_CONNS"`
	MinConns    int           `yaml:"min_conns" envconfig:"MIN_CONNS"`
	MaxLifetime time.Duration `yaml:"max_lifetime" envconfig:"MAX_LIFETIME"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// RedisConfig configures the shared document cache
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Addr     string        `yaml:"addr" envconfig:"ADDR"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// IdentityConfig configures bearer token validation
type IdentityConfig struct {
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" envconfig:"ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// RBACConfig tunes permission resolution
type RBACConfig struct {
	// OverrideCacheSize enables a per-replica override cache when positive.
	// Saves invalidate only the replica that served them, so other replicas
	// may keep a revoked grant for up to OverrideCacheTTL.
	OverrideCacheSize   int           `yaml:"override_cache_size" envconfig:"OVERRIDE_CACHE_SIZE"`
	OverrideCacheTTL    time.Duration `yaml:"override_cache_ttl" envconfig:"OVERRIDE_CACHE_TTL"`
	OverrideLoadTimeout time.Duration `yaml:"override_load_timeout" envconfig:"OVERRIDE_LOAD_TIMEOUT"`
}

// AuditConfig configures audit sinks and archiving
type AuditConfig struct {
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	FilePath      string        `yaml:"file_path" envconfig:"FILE_PATH"`
	FileMaxSizeMB int           `yaml:"file_max_size_mb" envconfig:"FILE_MAX_SIZE_MB"`

	S3Bucket       string `yaml:"s3_bucket" envconfig:"S3_BUCKET"`
	S3Region       string `yaml:"s3_region" envconfig:"S3_REGION"`
	S3Endpoint     string `yaml:"s3_endpoint" envconfig:"S3_ENDPOINT"`
	S3Prefix       string `yaml:"s3_prefix" envconfig:"S3_PREFIX"`
	S3AccessKey    string `yaml:"s3_access_key" envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `yaml:"s3_secret_key" envconfig:"S3_SECRET_KEY"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style" envconfig:"S3_USE_PATH_STYLE"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`

	OTelEnabled        bool    `yaml:"otel_enabled" envconfig:"OTEL_ENABLED"`
	OTelEndpoint       string  `yaml:"otel_endpoint" envconfig:"OTEL_ENDPOINT"`
	OTelServiceName    string  `yaml:"otel_service_name" envconfig:"OTEL_SERVICE_NAME"`
	OTelServiceVersion string  `yaml:"otel_service_version" envconfig:"OTEL_SERVICE_VERSION"`
	OTelInsecure       bool    `yaml:"otel_insecure" envconfig:"OTEL_INSECURE"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio" envconfig:"OTEL_SAMPLE_RATIO"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       300,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			MaxConns:    20,
			MinConns:    2,
			MaxLifetime: 30 * time.Minute,
			Timeout:     5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 5 * time.Minute,
		},
		Identity: IdentityConfig{
			Issuer:   "acesso",
			TokenTTL: 8 * time.Hour,
		},
		RBAC: RBACConfig{
			OverrideCacheSize:   0,
			OverrideCacheTTL:    30 * time.Second,
			OverrideLoadTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			WriteTimeout:  5 * time.Second,
			MaxAttempts:   3,
			FileMaxSizeMB: 100,
			S3Prefix:      "audit",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelServiceName:    "acesso",
			OTelServiceVersion: "dev",
			OTelSampleRatio:    1,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// ACESSO_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server addr is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server rate limit must not be negative"))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage dsn is required for %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver: %s (must be memory, postgres, or sqlite)", c.Storage.Driver))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis addr is required when redis is enabled"))
	}

	if len(c.Identity.JWTSecret) < 32 && !c.Server.Development {
		errs = append(errs, fmt.Errorf("identity jwt secret must be at least 32 bytes"))
	}

	if c.RBAC.OverrideCacheSize < 0 {
		errs = append(errs, fmt.Errorf("rbac override cache size must not be negative"))
	}

	for _, proxy := range c.Server.TrustedProxies {
		if proxy = strings.TrimSpace(proxy); proxy == "" {
			continue
		}
		if _, err := audit.ParseTrustedProxy(proxy); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Audit.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("audit max attempts must be at least 1"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLevel(c.Observability.LogLevel)
}

// OTel returns the OpenTelemetry settings
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}
