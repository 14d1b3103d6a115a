package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/updown/round-engine/internal/oracle"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ORACLE_SOURCE", "")
	t.Setenv("CRANK_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.FeeBps != 100 {
		t.Errorf("expected fee 100, got %d", cfg.FeeBps)
	}
	if cfg.FeedID != oracle.SOLUSDFeedID {
		t.Errorf("expected SOL/USD feed, got %s", cfg.FeedID)
	}
	if cfg.Crank.BettingWindow != 115*time.Second || cfg.Crank.LockWait != 5*time.Second {
		t.Errorf("unexpected crank timings %+v", cfg.Crank)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FEE_BPS", "250")
	t.Setenv("FEED_ID", "0x"+strings.ToUpper(oracle.SOLUSDFeedID))
	t.Setenv("CRANK_ENABLED", "true")
	t.Setenv("OPERATOR_ID", "op")
	t.Setenv("CRANK_RETRY_DELAY", "1s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FeeBps != 250 {
		t.Errorf("expected 250, got %d", cfg.FeeBps)
	}
	if cfg.FeedID != oracle.SOLUSDFeedID {
		t.Errorf("feed id should be normalised, got %s", cfg.FeedID)
	}
	if !cfg.Crank.Enabled || cfg.Crank.RetryDelay != time.Second {
		t.Errorf("unexpected crank config %+v", cfg.Crank)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{FeeBps: 100, FeedID: oracle.SOLUSDFeedID, OracleSource: OracleHermes, LogLevel: "info"}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"fee too high", func(c *Config) { c.FeeBps = 10_001 }, "FEE_BPS"},
		{"bad feed", func(c *Config) { c.FeedID = "abc" }, "FEED_ID"},
		{"redis oracle without redis", func(c *Config) { c.OracleSource = OracleRedis }, "REDIS_URL"},
		{"unknown oracle", func(c *Config) { c.OracleSource = "chainlink" }, "ORACLE_SOURCE"},
		{"crank without operator", func(c *Config) { c.Crank.Enabled = true }, "OPERATOR_ID"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}

	c := base()
	if err := c.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, _ := ParseLevel("DEBUG"); lvl != slog.LevelDebug {
		t.Errorf("expected debug, got %v", lvl)
	}
	if lvl, _ := ParseLevel(""); lvl != slog.LevelInfo {
		t.Errorf("expected info default, got %v", lvl)
	}
}
