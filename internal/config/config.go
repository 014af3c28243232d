// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// State store backend: none (process memory), file, or redis.
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"file"`
	StoreFilePath string `env:"STORE_FILE_PATH" envDefault:"data/state.json"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	// RedisKey is the single key holding the serialized state document.
	RedisKey string `env:"REDIS_KEY" envDefault:"chat-relay:state"`

	// Upstream chat service and its auth endpoint.
	UpstreamBaseURL string        `env:"UPSTREAM_BASE_URL" envDefault:"https://chat.example.com/api"`
	AuthBaseURL     string        `env:"AUTH_BASE_URL" envDefault:"https://chat.example.com/api"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`
	AuthTimeout     time.Duration `env:"AUTH_TIMEOUT" envDefault:"30s"`

	// DispatchMaxAttempts bounds both the session-create retry loop and the
	// outer completion loop.
	DispatchMaxAttempts int `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"3"`

	// Proxies is the configured egress pool (SOCKS-style URLs).
	Proxies      []string `env:"PROXIES" envSeparator:","`
	AccountsFile string   `env:"ACCOUNTS_FILE"`

	// Background token refresh.
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"15m"`
	TokenRefreshLeeway   time.Duration `env:"TOKEN_REFRESH_LEEWAY" envDefault:"30m"`

	// Auth Backoff Configuration
	AuthBackoffMaxElapsedTime  time.Duration `env:"AUTH_BACKOFF_MAX_ELAPSED_TIME" envDefault:"90s"`
	AuthBackoffInitialInterval time.Duration `env:"AUTH_BACKOFF_INITIAL_INTERVAL" envDefault:"2s"`
	AuthBackoffMaxInterval     time.Duration `env:"AUTH_BACKOFF_MAX_INTERVAL" envDefault:"20s"`
	AuthBackoffMultiplier      float64       `env:"AUTH_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	// AdminPasswordHash is an argon2id encoded hash; plaintext passwords are
	// never configured.
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	// HTTPWriteTimeout must cover a full dispatch including upstream retries.
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"300s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// RequestTimeout is the deadline applied to each inbound request context.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"240s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"chat-relay"`
}

// AdminEnabled returns true if the admin API guard should be enabled.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != ""
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAuthBackoffConfig returns backoff configuration appropriate for the current
// environment. In test environments, uses much shorter timeouts for faster test
// execution.
func (c Config) GetAuthBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return c.AuthBackoffMaxElapsedTime, c.AuthBackoffInitialInterval, c.AuthBackoffMaxInterval, c.AuthBackoffMultiplier
}
