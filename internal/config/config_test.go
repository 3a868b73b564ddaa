package config

import (
	"testing"
	"time"

	"repodigest/internal/digest"
)

func validConfig() Config {
	cfg := Load()
	cfg.LLMAPIKey = "key"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8091" {
		t.Errorf("expected default port 8091, got %s", cfg.Port)
	}
	if cfg.MaxRepoDataRatio != 0.65 {
		t.Errorf("expected ratio 0.65, got %f", cfg.MaxRepoDataRatio)
	}
	if cfg.BytesPerTokenEstimate != 4.0 {
		t.Errorf("expected 4.0 bytes per token, got %f", cfg.BytesPerTokenEstimate)
	}
	if cfg.WeightDocumentation != 0.40 || cfg.WeightCode != 0.20 {
		t.Errorf("unexpected default weights: %f %f", cfg.WeightDocumentation, cfg.WeightCode)
	}
	if cfg.MaxTotalFetchTime != 60*time.Second {
		t.Errorf("expected 60s total fetch time, got %s", cfg.MaxTotalFetchTime)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_REPO_DATA_RATIO", "0.5")
	t.Setenv("MODEL_CONTEXT_WINDOW_TOKENS", "32000")
	t.Setenv("MAX_CATEGORY_FETCH_TIME", "5s")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.MaxRepoDataRatio != 0.5 {
		t.Errorf("expected ratio 0.5, got %f", cfg.MaxRepoDataRatio)
	}
	if cfg.ContextWindowTokens != 32000 {
		t.Errorf("expected window 32000, got %d", cfg.ContextWindowTokens)
	}
	if cfg.MaxCategoryFetchTime != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.MaxCategoryFetchTime)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MODEL_CONTEXT_WINDOW_TOKENS", "not-a-number")
	cfg := Load()
	if cfg.ContextWindowTokens != 128000 {
		t.Errorf("unparseable value must fall back to default, got %d", cfg.ContextWindowTokens)
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.LLMAPIKey = "" }},
		{"zero window", func(c *Config) { c.ContextWindowTokens = 0 }},
		{"ratio too high", func(c *Config) { c.MaxRepoDataRatio = 1.0 }},
		{"ratio zero", func(c *Config) { c.MaxRepoDataRatio = 0 }},
		{"bad bytes per token", func(c *Config) { c.BytesPerTokenEstimate = 0 }},
		{"negative weight", func(c *Config) { c.WeightTests = -0.1 }},
		{"all weights zero", func(c *Config) {
			c.WeightDocumentation, c.WeightBuildPackage, c.WeightTests, c.WeightCode = 0, 0, 0, 0
		}},
		{"zero byte cap", func(c *Config) { c.MaxCodeBytes = 0 }},
	}
	for _, c := range cases {
		cfg := validConfig()
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestWeights(t *testing.T) {
	cfg := validConfig()
	w := cfg.Weights()
	if len(w) != 4 {
		t.Fatalf("expected 4 weights, got %d", len(w))
	}
	if w[digest.Documentation] != 0.40 {
		t.Errorf("expected documentation weight 0.40, got %f", w[digest.Documentation])
	}
}
