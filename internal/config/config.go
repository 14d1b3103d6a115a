// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
)

// Oracle sources.
const (
	OracleHermes = "hermes"
	OracleRedis  = "redis"
)

// Config is the full server configuration. Empty backend URLs disable the
// corresponding backend.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	OperatorID string `env:"OPERATOR_ID"`
	FeeBps     uint16 `env:"FEE_BPS" envDefault:"100"`

	FeedID       string `env:"FEED_ID" envDefault:"ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"`
	HermesURL    string `env:"HERMES_URL" envDefault:"https://hermes.pyth.network"`
	OracleSource string `env:"ORACLE_SOURCE" envDefault:"hermes"`

	NATSURL string `env:"NATS_URL"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Prefix    string `env:"S3_PREFIX"`

	Crank Crank `envPrefix:"CRANK_"`
}

// Crank configures the operator loop.
type Crank struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	BettingWindow time.Duration `env:"BETTING_WINDOW" envDefault:"115s"`
	LockWait      time.Duration `env:"LOCK_WAIT" envDefault:"5s"`
	SettleDelay   time.Duration `env:"SETTLE_DELAY" envDefault:"2s"`
	RetryDelay    time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.FeeBps > model.MaxFeeBps {
		return fmt.Errorf("config: FEE_BPS %d exceeds %d", c.FeeBps, model.MaxFeeBps)
	}
	id, err := oracle.ParseFeedID(c.FeedID)
	if err != nil {
		return fmt.Errorf("config: FEED_ID: %w", err)
	}
	c.FeedID = id

	switch c.OracleSource {
	case OracleHermes:
	case OracleRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: ORACLE_SOURCE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown ORACLE_SOURCE %q", c.OracleSource)
	}

	if c.Crank.Enabled && c.OperatorID == "" {
		return fmt.Errorf("config: CRANK_ENABLED requires OPERATOR_ID")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown LOG_LEVEL %q", s)
}
