// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL (redis://host:6379/0) backing the login reservation counter; empty uses an in-process counter.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSecret is the active HS256 signing secret. Ignored when JWTPrivateKey is set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTKeyID is the kid of the active signing key.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTPreviousSecrets lists retired HS256 keys still accepted for verification, as "kid:secret,kid:secret".
	JWTPreviousSecrets string `mapstructure:"JWT_PREVIOUS_SECRETS"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "registry-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "registry-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTClockSkew is the leeway applied to exp/nbf/iat when verifying access tokens.
	JWTClockSkew string `mapstructure:"JWT_CLOCK_SKEW"`

	// ResetTokenTTL is the password reset token lifetime (e.g. "1h").
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`
	// ResetTokenReturnToClient enables dev mode: forgot-password returns the raw token and the dev mailbox is served.
	// Must not be true when Env is production.
	ResetTokenReturnToClient bool `mapstructure:"RESET_TOKEN_RETURN_TO_CLIENT"`

	// LoginRateWindow is the trailing window for counting failed login attempts.
	LoginRateWindow string `mapstructure:"LOGIN_RATE_WINDOW"`
	// LoginMaxFailures is the number of failures within the window that blocks an IP.
	LoginMaxFailures int `mapstructure:"LOGIN_MAX_FAILURES"`
	// LoginAttemptRetentionDays is how long login attempts are kept before the sweeper deletes them.
	LoginAttemptRetentionDays int `mapstructure:"LOGIN_ATTEMPT_RETENTION_DAYS"`

	// SweepInterval is how often expired and revoked tokens are purged.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// SweepGrace is how long expired or revoked rows are kept before deletion.
	SweepGrace string `mapstructure:"SWEEP_GRACE"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PasswordHasher selects the hash for new passwords: "bcrypt" or "argon2id". Both are always verifiable.
	PasswordHasher string `mapstructure:"PASSWORD_HASHER"`

	// DefaultRole is the role assigned at registration.
	DefaultRole string `mapstructure:"DEFAULT_ROLE"`
	// DefaultPermissions is the comma-separated permission set assigned at registration.
	DefaultPermissions string `mapstructure:"DEFAULT_PERMISSIONS"`

	// RequestTimeout bounds every HTTP request and the store calls made on its behalf.
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// HTTPRateLimitRPS and HTTPRateLimitBurst configure the per-IP token bucket in front of the API.
	HTTPRateLimitRPS   int `mapstructure:"HTTP_RATE_LIMIT_RPS"`
	HTTPRateLimitBurst int `mapstructure:"HTTP_RATE_LIMIT_BURST"`

	// AuthzPolicyFile is an optional Rego file replacing the built-in admin authorization policy.
	AuthzPolicyFile string `mapstructure:"AUTHZ_POLICY_FILE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// ServiceName is reported to OpenTelemetry.
	ServiceName string `mapstructure:"SERVICE_NAME"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AuthEventsKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	AuthEventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsKafkaTopic is the Kafka topic for auth events.
	AuthEventsKafkaTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the auth event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the auth event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_KEY_ID", "v1")
	v.SetDefault("JWT_PREVIOUS_SECRETS", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "registry-auth")
	v.SetDefault("JWT_AUDIENCE", "registry-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_CLOCK_SKEW", "30s")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("RESET_TOKEN_RETURN_TO_CLIENT", false)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")
	v.SetDefault("LOGIN_MAX_FAILURES", 5)
	v.SetDefault("LOGIN_ATTEMPT_RETENTION_DAYS", 30)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_GRACE", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_HASHER", "bcrypt")
	v.SetDefault("DEFAULT_ROLE", "user")
	v.SetDefault("DEFAULT_PERMISSIONS", "profile:read,profile:write")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("HTTP_RATE_LIMIT_RPS", 20)
	v.SetDefault("HTTP_RATE_LIMIT_BURST", 40)
	v.SetDefault("AUTHZ_POLICY_FILE", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SERVICE_NAME", "registry-auth")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "registry-auth-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "registry-auth-event-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.ResetTokenReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: RESET_TOKEN_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	switch cfg.PasswordHasher {
	case "", "bcrypt", "argon2id":
	default:
		return nil, errors.New("config: PASSWORD_HASHER must be bcrypt or argon2id")
	}

	if cfg.LoginMaxFailures <= 0 {
		return nil, errors.New("config: LOGIN_MAX_FAILURES must be positive")
	}
	if cfg.LoginAttemptRetentionDays <= 0 {
		cfg.LoginAttemptRetentionDays = 30
	}

	return &cfg, nil
}

// ValidateSigning reports whether a signing key is configured. The API server requires one; tools like migrate do not.
func (c *Config) ValidateSigning() error {
	if strings.TrimSpace(c.JWTPrivateKey) != "" {
		if strings.TrimSpace(c.JWTPublicKey) == "" {
			return errors.New("config: JWT_PUBLIC_KEY must be set with JWT_PRIVATE_KEY")
		}
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes (or set JWT_PRIVATE_KEY/JWT_PUBLIC_KEY)")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// ClockSkew parses JWTClockSkew. Returns 30s if unset or invalid; zero is allowed.
func (c *Config) ClockSkew() time.Duration {
	d, err := time.ParseDuration(c.JWTClockSkew)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// ResetTTL parses ResetTokenTTL. Returns 1h if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	return parseDuration(c.ResetTokenTTL, time.Hour)
}

// RateWindow parses LoginRateWindow. Returns 15m if unset or invalid.
func (c *Config) RateWindow() time.Duration {
	return parseDuration(c.LoginRateWindow, 15*time.Minute)
}

// SweepEvery parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, time.Hour)
}

// SweepGracePeriod parses SweepGrace. Returns 24h if unset or invalid.
func (c *Config) SweepGracePeriod() time.Duration {
	return parseDuration(c.SweepGrace, 24*time.Hour)
}

// Timeout parses RequestTimeout. Returns 10s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, 10*time.Second)
}

// DefaultPermissionList returns DefaultPermissions split on commas, trimmed, empties dropped.
func (c *Config) DefaultPermissionList() []string {
	return splitList(c.DefaultPermissions)
}

// PreviousSecrets parses JWTPreviousSecrets into kid → secret. Malformed entries are skipped.
func (c *Config) PreviousSecrets() map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(c.JWTPreviousSecrets) {
		kid, secret, ok := strings.Cut(item, ":")
		kid, secret = strings.TrimSpace(kid), strings.TrimSpace(secret)
		if !ok || kid == "" || secret == "" {
			continue
		}
		out[kid] = secret
	}
	return out
}

// AuthEventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka event producer is enabled (non-empty list).
func (c *Config) AuthEventsKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AuthEventsKafkaBrokers)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
