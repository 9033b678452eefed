// Package config loads the gateway configuration from environment variables.
//
// Every setting has an env var and, where it makes sense, a default. The
// only required value is SESSION_SECRET: the gateway refuses to start
// without a signing key rather than generating one that changes on every
// restart (which would silently log everybody out).
package config

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
)

// MinSessionSecretLength is the shortest accepted SESSION_SECRET.
const MinSessionSecretLength = 16

// Duration is a time.Duration read from the environment as "24h", "90m"
// or a bare number of seconds ("3600").
// It implements cleanenv.Setter.
type Duration time.Duration

func (d *Duration) SetValue(data string) error {
	v, err := parseDuration(data)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(s string) (time.Duration, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration must be like 30s, 24h or a number of seconds: %w", err)
	}
	return d, nil
}

type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Redis   RedisConfig
	Session SessionConfig
	OAuth   OAuthConfig
	Hash    HashConfig
	Log     LogConfig
}

type HTTPConfig struct {
	Port         int      `env:"PORT" env-default:"8080"`
	ReadTimeout  Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// DBConfig selects the user store. Driver "sqlite" uses Path, "postgres"
// uses DSN.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" env-default:"sqlite"`
	Path   string `env:"DB_PATH" env-default:"data/secrets.db"`
	DSN    string `env:"PG_DSN" env-default:""`
}

// RedisConfig is optional. With neither Addr nor URL set, sessions live in
// process memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:""`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
	// URL overrides Addr, Password and DB. Example: redis://:pw@host:6379/2
	// A rediss:// URL turns on TLS.
	URL string `env:"REDIS_URL" env-default:""`

	// parsed is what URL decoded to; nil when URL is empty.
	parsed *redis.Options
}

// Enabled reports whether a Redis session store was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// ClientOptions returns the options for redis.NewClient. Each call returns
// a fresh copy.
func (r RedisConfig) ClientOptions() *redis.Options {
	if r.parsed != nil {
		o := *r.parsed
		return &o
	}
	return &redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	}
}

// TLS reports whether the client will connect over TLS.
func (r RedisConfig) TLS() bool { return r.parsed != nil && r.parsed.TLSConfig != nil }

type SessionConfig struct {
	Secret       string   `env:"SESSION_SECRET" env-required:"true"`
	TTL          Duration `env:"SESSION_TTL" env-default:"24h"`
	CookieSecure bool     `env:"COOKIE_SECURE" env-default:"false"`
}

// OAuthConfig configures the single federated provider. Federated routes
// are only mounted when ClientID is set.
type OAuthConfig struct {
	Provider     string `env:"OAUTH_PROVIDER" env-default:"google"`
	ClientID     string `env:"OAUTH_CLIENT_ID" env-default:""`
	ClientSecret string `env:"OAUTH_CLIENT_SECRET" env-default:""`
	CallbackURL  string `env:"OAUTH_CALLBACK_URL" env-default:""`
}

// Enabled reports whether federated login is configured.
func (o OAuthConfig) Enabled() bool { return o.ClientID != "" }

type HashConfig struct {
	BcryptCost int `env:"BCRYPT_COST" env-default:"12"`
	// Workers bounds concurrent password hashing. Zero means runtime.NumCPU().
	Workers int `env:"HASH_WORKERS" env-default:"0"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps Level to a slog.Level. Unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
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

// Load reads the environment, fills derived values and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(strings.TrimSpace(cfg.Redis.URL))
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_URL: %w", err)
		}
		cfg.Redis.parsed = opts
		cfg.Redis.Addr = opts.Addr
		cfg.Redis.Password = opts.Password
		cfg.Redis.DB = opts.DB
	}

	if cfg.Hash.Workers <= 0 {
		cfg.Hash.Workers = runtime.NumCPU()
	}
	if cfg.OAuth.CallbackURL == "" {
		cfg.OAuth.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/federated/callback", cfg.HTTP.Port)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot express in tags.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("PG_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DB.Driver)
	}

	if len(c.Session.Secret) < MinSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters", MinSessionSecretLength)
	}
	if c.Session.TTL.Duration() <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.OAuth.Enabled() {
		switch c.OAuth.Provider {
		case "google", "github":
		default:
			return fmt.Errorf("OAUTH_PROVIDER must be google or github, got %q", c.OAuth.Provider)
		}
		if c.OAuth.ClientSecret == "" {
			return fmt.Errorf("OAUTH_CLIENT_SECRET is required when OAUTH_CLIENT_ID is set")
		}
	}
	return nil
}
