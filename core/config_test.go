package core

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "  " }},
		{"zero ttl", func(c *Config) { c.VerificationTTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"negative no-delivery fee", func(c *Config) { c.NoDeliveryFee = -1 }},
		{"zero poll interval", func(c *Config) { c.Polling.InitialInterval = 0 }},
		{"shrinking backoff", func(c *Config) { c.Polling.Multiplier = 0.5 }},
		{"max below initial", func(c *Config) { c.Polling.MaxInterval = time.Second }},
		{"zero workers", func(c *Config) { c.Polling.Workers = 0 }},
		{"zero failure threshold", func(c *Config) { c.Circuit.FailureThreshold = 0 }},
		{"zero window", func(c *Config) { c.Circuit.Window = 0 }},
		{"zero cooldown", func(c *Config) { c.Circuit.Cooldown = 0 }},
		{"zero acquire attempts", func(c *Config) { c.Selection.MaxAcquireAttempts = 0 }},
		{"empty provider id", func(c *Config) {
			c.Providers = map[string]ProviderConfig{" ": {}}
		}},
		{"negative cost estimate", func(c *Config) {
			c.Providers = map[string]ProviderConfig{"smshub": {CostEstimate: -1}}
		}},
		{"negative cancellation fee", func(c *Config) {
			c.Providers = map[string]ProviderConfig{"smshub": {CancellationFee: -1}}
		}},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %s to fail validation", tc.name)
		}
	}
}

func TestProviderSettingsFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"smshub": {Enabled: true, CostEstimate: 45},
	}

	settings := cfg.ProviderSettings("smshub")
	if settings.CostEstimate != 45 {
		t.Fatalf("expected configured estimate, got %d", settings.CostEstimate)
	}
	if settings.CallTimeout != 10*time.Second {
		t.Fatalf("expected call timeout fallback, got %s", settings.CallTimeout)
	}
	if settings.RateLimitRPS != 5 || settings.RateLimitBurst != 5 {
		t.Fatalf("expected rate limit fallbacks, got %f/%d", settings.RateLimitRPS, settings.RateLimitBurst)
	}

	// Unknown providers get the same fallbacks on a zero block.
	unknown := cfg.ProviderSettings("missing")
	if unknown.CallTimeout != 10*time.Second || unknown.CostEstimate != 0 {
		t.Fatalf("unexpected fallback block: %+v", unknown)
	}
}

func TestCfgxConfigProviderMergesRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"verification_ttl": "20m",
		"polling": map[string]any{
			"initial_interval": "2s",
			"multiplier":       2.0,
			"max_interval":     "45s",
			"workers":          4,
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VerificationTTL != 20*time.Minute {
		t.Fatalf("expected overridden ttl, got %s", cfg.VerificationTTL)
	}
	if cfg.Polling.Workers != 4 || cfg.Polling.MaxInterval != 45*time.Second {
		t.Fatalf("unexpected polling block: %+v", cfg.Polling)
	}
	// Untouched keys keep their defaults.
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("expected default sweep interval, got %s", cfg.SweepInterval)
	}
}
