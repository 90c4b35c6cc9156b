// Package config loads server configuration from YAML files and
// SKIRMISH_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the skirmish server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Game     GameConfig     `mapstructure:"game"`
}

// ServerConfig controls the HTTP listener and client session limits.
type ServerConfig struct {
	HTTPAddress     string          `mapstructure:"http_address"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	MaxSessions     int             `mapstructure:"max_sessions"`
	LeasePeriod     time.Duration   `mapstructure:"lease_period"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds per-client request rates on the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig selects log verbosity and output encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the Postgres connection pool. An empty URL
// disables persistence and the server runs purely in memory.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AuthConfig controls join token issuance.
type AuthConfig struct {
	JoinTokenTTL  time.Duration `mapstructure:"join_token_ttl"`
	AdminPassword string        `mapstructure:"admin_password"`
}

// GameConfig carries match pacing and economy knobs, mapped onto the
// engine options at startup.
type GameConfig struct {
	WindowDuration   time.Duration  `mapstructure:"window_duration"`
	EnergyCapacity   int            `mapstructure:"energy_capacity"`
	EnergyRegen      int            `mapstructure:"energy_regen"`
	DefaultMaxHealth int            `mapstructure:"default_max_health"`
	JournalDir       string         `mapstructure:"journal_dir"`
	CardsPath        string         `mapstructure:"cards_path"`
	Resolver         ResolverConfig `mapstructure:"resolver"`
}

// ResolverConfig paces action resolution. All fields are durations;
// zero values disable the corresponding wait.
type ResolverConfig struct {
	MinDwell            time.Duration `mapstructure:"min_dwell"`
	MaxWait             time.Duration `mapstructure:"max_wait"`
	InterActionDelay    time.Duration `mapstructure:"inter_action_delay"`
	StartDelayBase      time.Duration `mapstructure:"start_delay_base"`
	StartDelayPerAction time.Duration `mapstructure:"start_delay_per_action"`
}

// Load reads configuration from the given YAML file and the environment.
// Environment variables take precedence and use the SKIRMISH_ prefix with
// underscores for nesting, e.g. SKIRMISH_SERVER_HTTP_ADDRESS. When path is
// empty, a config.yaml in the working directory or ./config is used if
// present; a missing file is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SKIRMISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_sessions", 512)
	v.SetDefault("server.lease_period", 5*time.Minute)
	v.SetDefault("server.rate_limit.requests_per_second", 10.0)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("auth.join_token_ttl", 15*time.Minute)
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("game.window_duration", 30*time.Second)
	v.SetDefault("game.energy_capacity", 10)
	v.SetDefault("game.energy_regen", 3)
	v.SetDefault("game.default_max_health", 30)
	v.SetDefault("game.journal_dir", "")
	v.SetDefault("game.cards_path", "")
	v.SetDefault("game.resolver.min_dwell", 250*time.Millisecond)
	v.SetDefault("game.resolver.max_wait", 5*time.Second)
	v.SetDefault("game.resolver.inter_action_delay", 150*time.Millisecond)
	v.SetDefault("game.resolver.start_delay_base", 400*time.Millisecond)
	v.SetDefault("game.resolver.start_delay_per_action", 150*time.Millisecond)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return errors.New("server.http_address must not be empty")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive, got %d", c.Server.MaxSessions)
	}
	if c.Server.LeasePeriod <= 0 {
		return fmt.Errorf("server.lease_period must be positive, got %s", c.Server.LeasePeriod)
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be positive, got %g", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.Burst <= 0 {
		return fmt.Errorf("server.rate_limit.burst must be positive, got %d", c.Server.RateLimit.Burst)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			return fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns)
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("database.min_conns must be between 0 and max_conns, got %d", c.Database.MinConns)
		}
	}

	if c.Auth.JoinTokenTTL <= 0 {
		return fmt.Errorf("auth.join_token_ttl must be positive, got %s", c.Auth.JoinTokenTTL)
	}

	if c.Game.EnergyCapacity <= 0 {
		return fmt.Errorf("game.energy_capacity must be positive, got %d", c.Game.EnergyCapacity)
	}
	if c.Game.EnergyRegen < 0 {
		return fmt.Errorf("game.energy_regen must not be negative, got %d", c.Game.EnergyRegen)
	}
	if c.Game.DefaultMaxHealth <= 0 {
		return fmt.Errorf("game.default_max_health must be positive, got %d", c.Game.DefaultMaxHealth)
	}
	if err := c.Game.Resolver.validate(); err != nil {
		return err
	}

	return nil
}

func (r *ResolverConfig) validate() error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"game.resolver.min_dwell", r.MinDwell},
		{"game.resolver.max_wait", r.MaxWait},
		{"game.resolver.inter_action_delay", r.InterActionDelay},
		{"game.resolver.start_delay_base", r.StartDelayBase},
		{"game.resolver.start_delay_per_action", r.StartDelayPerAction},
	}
	for _, c := range checks {
		if c.value < 0 {
			return fmt.Errorf("%s must not be negative, got %s", c.name, c.value)
		}
	}
	if r.MaxWait > 0 && r.MinDwell > r.MaxWait {
		return fmt.Errorf("game.resolver.min_dwell %s exceeds max_wait %s", r.MinDwell, r.MaxWait)
	}
	return nil
}
