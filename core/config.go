package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderConfig struct {
	Enabled         bool          `koanf:"enabled" mapstructure:"enabled"`
	APIKey          string        `koanf:"api_key" mapstructure:"api_key"`
	BaseURL         string        `koanf:"base_url" mapstructure:"base_url"`
	WebhookEnabled  bool          `koanf:"webhook_enabled" mapstructure:"webhook_enabled"`
	WebhookSecret   string        `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	CostEstimate    int64         `koanf:"cost_estimate" mapstructure:"cost_estimate"`
	CancellationFee int64         `koanf:"cancellation_fee" mapstructure:"cancellation_fee"`
	CallTimeout     time.Duration `koanf:"call_timeout" mapstructure:"call_timeout"`
	RateLimitRPS    float64       `koanf:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `koanf:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

type PollingConfig struct {
	InitialInterval time.Duration `koanf:"initial_interval" mapstructure:"initial_interval"`
	Multiplier      float64       `koanf:"multiplier" mapstructure:"multiplier"`
	MaxInterval     time.Duration `koanf:"max_interval" mapstructure:"max_interval"`
	Workers         int           `koanf:"workers" mapstructure:"workers"`
}

type CircuitConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	Window           time.Duration `koanf:"window" mapstructure:"window"`
	Cooldown         time.Duration `koanf:"cooldown" mapstructure:"cooldown"`
}

// WebhookBurstConfig shapes how the inbound pipeline treats rapid webhook
// volleys for the same verification. Mode "none" disables burst handling;
// "coalesce" answers trailing deliveries inside the window from the first
// result; "debounce" restarts the window on every delivery.
type WebhookBurstConfig struct {
	Mode   string        `koanf:"mode" mapstructure:"mode"`
	Window time.Duration `koanf:"window" mapstructure:"window"`
}

type SelectionConfig struct {
	SuccessWeight      float64 `koanf:"success_weight" mapstructure:"success_weight"`
	CostWeight         float64 `koanf:"cost_weight" mapstructure:"cost_weight"`
	MaxAcquireAttempts int     `koanf:"max_acquire_attempts" mapstructure:"max_acquire_attempts"`
}

type Config struct {
	ServiceName      string                    `koanf:"service_name" mapstructure:"service_name"`
	VerificationTTL  time.Duration             `koanf:"verification_ttl" mapstructure:"verification_ttl"`
	SweepInterval    time.Duration             `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	NoDeliveryFee    int64                     `koanf:"no_delivery_fee" mapstructure:"no_delivery_fee"`
	WebhookRetention time.Duration             `koanf:"webhook_retention" mapstructure:"webhook_retention"`
	WebhookBurst     WebhookBurstConfig        `koanf:"webhook_burst" mapstructure:"webhook_burst"`
	Polling          PollingConfig             `koanf:"polling" mapstructure:"polling"`
	Circuit          CircuitConfig             `koanf:"circuit" mapstructure:"circuit"`
	Selection        SelectionConfig           `koanf:"selection" mapstructure:"selection"`
	Providers        map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "smsbroker",
		VerificationTTL:  15 * time.Minute,
		SweepInterval:    time.Minute,
		NoDeliveryFee:    0,
		WebhookRetention: 72 * time.Hour,
		WebhookBurst: WebhookBurstConfig{
			Mode:   "none",
			Window: 2 * time.Second,
		},
		Polling: PollingConfig{
			InitialInterval: 5 * time.Second,
			Multiplier:      1.5,
			MaxInterval:     30 * time.Second,
			Workers:         8,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Window:           time.Minute,
			Cooldown:         30 * time.Second,
		},
		Selection: SelectionConfig{
			SuccessWeight:      1.0,
			CostWeight:         0.25,
			MaxAcquireAttempts: 3,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.VerificationTTL <= 0 {
		return fmt.Errorf("core: verification_ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("core: sweep_interval must be positive")
	}
	if c.NoDeliveryFee < 0 {
		return fmt.Errorf("core: no_delivery_fee must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.WebhookBurst.Mode)) {
	case "", "none", "coalesce", "debounce":
	default:
		return fmt.Errorf("core: webhook_burst.mode must be none, coalesce, or debounce")
	}
	if c.WebhookBurst.Window < 0 {
		return fmt.Errorf("core: webhook_burst.window must be >= 0")
	}
	if c.Polling.InitialInterval <= 0 {
		return fmt.Errorf("core: polling.initial_interval must be positive")
	}
	if c.Polling.Multiplier < 1.0 {
		return fmt.Errorf("core: polling.multiplier must be >= 1")
	}
	if c.Polling.MaxInterval < c.Polling.InitialInterval {
		return fmt.Errorf("core: polling.max_interval must be >= polling.initial_interval")
	}
	if c.Polling.Workers <= 0 {
		return fmt.Errorf("core: polling.workers must be positive")
	}
	if c.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("core: circuit.failure_threshold must be positive")
	}
	if c.Circuit.Window <= 0 {
		return fmt.Errorf("core: circuit.window must be positive")
	}
	if c.Circuit.Cooldown <= 0 {
		return fmt.Errorf("core: circuit.cooldown must be positive")
	}
	if c.Selection.MaxAcquireAttempts <= 0 {
		return fmt.Errorf("core: selection.max_acquire_attempts must be positive")
	}
	for id, provider := range c.Providers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("core: provider id must not be empty")
		}
		if provider.CostEstimate < 0 {
			return fmt.Errorf("core: provider %s cost_estimate must be >= 0", id)
		}
		if provider.CancellationFee < 0 {
			return fmt.Errorf("core: provider %s cancellation_fee must be >= 0", id)
		}
	}
	return nil
}

// ProviderSettings returns the per-provider block with zero-value fallbacks
// resolved, so call sites never branch on missing map entries.
func (c Config) ProviderSettings(providerID string) ProviderConfig {
	settings := c.Providers[strings.TrimSpace(providerID)]
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 10 * time.Second
	}
	if settings.RateLimitRPS <= 0 {
		settings.RateLimitRPS = 5
	}
	if settings.RateLimitBurst <= 0 {
		settings.RateLimitBurst = 5
	}
	return settings
}
