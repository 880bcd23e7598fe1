package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segmenter.Strategy != "hybrid" {
		t.Fatalf("expected hybrid default strategy, got %s", cfg.Segmenter.Strategy)
	}
	if cfg.Jobs.MaxConcurrent != 3 {
		t.Fatalf("expected 3 concurrent jobs, got %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.RateLimit.Quotas["transcribe"] != 10 {
		t.Fatalf("expected transcribe quota 10, got %d", cfg.RateLimit.Quotas["transcribe"])
	}
	if cfg.Session.TTLSeconds != 600 {
		t.Fatalf("expected session ttl 600, got %d", cfg.Session.TTLSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TYPELESS_HTTP_PORT", "9000")
	t.Setenv("TYPELESS_AUTH_ENABLED", "true")
	t.Setenv("TYPELESS_API_KEYS", "key-a, key-b")
	t.Setenv("TYPELESS_SEGMENTER_STRATEGY", "fixed")
	t.Setenv("TYPELESS_SEGMENTER_MAX_CHUNK_DURATION_SECONDS", "12.5")
	t.Setenv("TYPELESS_JOBS_MAX_CONCURRENT", "5")
	t.Setenv("TYPELESS_ENHANCER_PROVIDER", "ollama")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 2 {
		t.Fatalf("expected auth override, got %+v", cfg.Auth)
	}
	if cfg.Segmenter.Strategy != "fixed" {
		t.Fatalf("expected strategy override, got %s", cfg.Segmenter.Strategy)
	}
	if cfg.Segmenter.MaxChunkDurationSec != 12.5 {
		t.Fatalf("expected max chunk duration override, got %v", cfg.Segmenter.MaxChunkDurationSec)
	}
	if cfg.Jobs.MaxConcurrent != 5 {
		t.Fatalf("expected jobs override, got %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Enhancer.Provider != "ollama" {
		t.Fatalf("expected enhancer override, got %s", cfg.Enhancer.Provider)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad strategy", func(c *Config) { c.Segmenter.Strategy = "random" }},
		{"bad merge", func(c *Config) { c.Pipeline.MergeStrategy = "fuzzy" }},
		{"overlap too big", func(c *Config) { c.Segmenter.OverlapSec = c.Segmenter.ChunkDurationSec }},
		{"auth without keys", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKeys = nil }},
		{"exec without command", func(c *Config) { c.Recognizer.Mode = "exec" }},
		{"bad enhancer", func(c *Config) { c.Enhancer.Provider = "claude" }},
		{"zero jobs", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
