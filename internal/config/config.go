// Package config loads and validates server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/gamehub/internal/auth"
)

// Refresh token store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// AllowedOriginsRaw is a comma-separated origin allow list; "*" allows all.
	AllowedOriginsRaw string `mapstructure:"ALLOWED_ORIGINS"`
	// MaxMessageSize caps one inbound websocket frame in bytes.
	MaxMessageSize int64 `mapstructure:"MAX_MESSAGE_SIZE"`
	RateLimitBurst int   `mapstructure:"RATE_LIMIT_BURST"`
	// RateLimitRefill is a duration ("1s", "500ms") or a plain number of seconds.
	RateLimitRefill string `mapstructure:"RATE_LIMIT_REFILL_INTERVAL"`
	// AuthRateLimitPerMinute bounds auth endpoint requests per client IP.
	AuthRateLimitPerMinute int `mapstructure:"AUTH_RATE_LIMIT_PER_MINUTE"`

	// DatabaseURL is the Postgres DSN; empty selects in-memory stores.
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`
	// RefreshStore selects the refresh token backend; empty picks one from
	// the other settings.
	RefreshStore  string `mapstructure:"REFRESH_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTSecret signs access tokens with HS256 unless a key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is PEM content or a path; used with JWTPublicKey for RS256/ES256.
	JWTPrivateKey  string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey   string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL accepts a day suffix, e.g. "7d".
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	BcryptCost      int    `mapstructure:"BCRYPT_COST"`

	IdleTimeoutRaw        string `mapstructure:"IDLE_TIMEOUT"`
	IdleSweepIntervalRaw  string `mapstructure:"IDLE_SWEEP_INTERVAL"`
	TokenSweepIntervalRaw string `mapstructure:"TOKEN_SWEEP_INTERVAL"`
	MaxChatLength         int    `mapstructure:"MAX_CHAT_LENGTH"`
	ShutdownTimeoutRaw    string `mapstructure:"SHUTDOWN_TIMEOUT"`

	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`

	Env       string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Parsed values, filled by Load.
	AllowedOrigins     []string        `mapstructure:"-"`
	RateLimit          RateLimitConfig `mapstructure:"-"`
	AccessTTL          time.Duration   `mapstructure:"-"`
	RefreshTTL         time.Duration   `mapstructure:"-"`
	IdleTimeout        time.Duration   `mapstructure:"-"`
	IdleSweepInterval  time.Duration   `mapstructure:"-"`
	TokenSweepInterval time.Duration   `mapstructure:"-"`
	ShutdownTimeout    time.Duration   `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:8080")
	v.SetDefault("MAX_MESSAGE_SIZE", 4096)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", "1s")
	v.SetDefault("AUTH_RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REFRESH_STORE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "gamehub")
	v.SetDefault("ACCESS_TOKEN_TTL", "24h")
	v.SetDefault("REFRESH_TOKEN_TTL", "7d")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("IDLE_TIMEOUT", "30m")
	v.SetDefault("IDLE_SWEEP_INTERVAL", "5m")
	v.SetDefault("TOKEN_SWEEP_INTERVAL", "1h")
	v.SetDefault("MAX_CHAT_LENGTH", 500)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("ADMIN_USERNAME", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing file is fine
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	// Out-of-range transport limits fall back to defaults.
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 5
	}
	if c.AuthRateLimitPerMinute <= 0 {
		c.AuthRateLimitPerMinute = 30
	}
	if c.MaxChatLength <= 0 {
		c.MaxChatLength = 500
	}
	c.RateLimit = RateLimitConfig{
		Burst:          c.RateLimitBurst,
		RefillInterval: parseInterval(c.RateLimitRefill, time.Second),
	}
	c.AllowedOrigins = ParseOrigins(c.AllowedOriginsRaw)

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	var err error
	if c.AccessTTL, err = auth.ParseTTL(c.AccessTokenTTL); err != nil {
		return fmt.Errorf("config: ACCESS_TOKEN_TTL: %w", err)
	}
	if c.RefreshTTL, err = auth.ParseTTL(c.RefreshTokenTTL); err != nil {
		return fmt.Errorf("config: REFRESH_TOKEN_TTL: %w", err)
	}
	if c.IdleTimeout, err = auth.ParseTTL(c.IdleTimeoutRaw); err != nil {
		return fmt.Errorf("config: IDLE_TIMEOUT: %w", err)
	}
	c.IdleSweepInterval = parseInterval(c.IdleSweepIntervalRaw, 5*time.Minute)
	c.TokenSweepInterval = parseInterval(c.TokenSweepIntervalRaw, time.Hour)
	c.ShutdownTimeout = parseInterval(c.ShutdownTimeoutRaw, 10*time.Second)

	hasKeyPair := c.JWTPrivateKey != "" || c.JWTPublicKey != ""
	if hasKeyPair && (c.JWTPrivateKey == "" || c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if !hasKeyPair && c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set")
	}

	c.RefreshStore = strings.ToLower(strings.TrimSpace(c.RefreshStore))
	if c.RefreshStore == "" {
		switch {
		case c.DatabaseURL != "":
			c.RefreshStore = StorePostgres
		case c.RedisAddr != "":
			c.RefreshStore = StoreRedis
		default:
			c.RefreshStore = StoreMemory
		}
	}
	switch c.RefreshStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: REFRESH_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REFRESH_STORE=redis requires REDIS_ADDR")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown REFRESH_STORE %q", c.RefreshStore)
	}

	if c.Env == "production" && c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes when APP_ENV=production")
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level; unknown values select Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseOrigins splits a comma-separated origin list, dropping empty entries.
func ParseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseInterval accepts a Go duration or a positive number of seconds.
func parseInterval(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}
