package smsbroker

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
	"github.com/goliatone/go-smsbroker/providers/devkit"
	"github.com/goliatone/go-smsbroker/providers/ringotp"
	"github.com/goliatone/go-smsbroker/providers/smshub"
	"github.com/goliatone/go-smsbroker/secrets"
)

func SMSHubProvider(cfg smshub.Config) (core.ProviderAdapter, error) {
	return smshub.New(cfg)
}

func RingOTPProvider(cfg ringotp.Config) (core.ProviderAdapter, error) {
	return ringotp.New(cfg)
}

func DevKitProvider(opts ...devkit.Option) core.ProviderAdapter {
	return devkit.NewAdapter(opts...)
}

// RegisterConfiguredProviders builds adapters for every enabled provider
// block in the configuration and registers them with the health registry.
// API keys carrying the secrets envelope prefix are decrypted through the
// optional secret provider.
func RegisterConfiguredProviders(registry *core.HealthRegistry, cfg Config, secretProviders ...core.SecretProvider) error {
	if registry == nil {
		return fmt.Errorf("smsbroker: health registry is required")
	}
	resolver := firstSecretProvider(secretProviders)
	for id, settings := range cfg.Providers {
		if !settings.Enabled {
			continue
		}
		adapter, err := buildConfiguredAdapter(id, settings, resolver)
		if err != nil {
			return err
		}
		if err := registry.Register(adapter, settings.CostEstimate); err != nil {
			return err
		}
	}
	return nil
}

// WebhookSecretLookup returns the per-provider secret resolver the webhook
// signature verifier consumes, decrypting enveloped secrets on first use.
func WebhookSecretLookup(cfg Config, secretProviders ...core.SecretProvider) func(providerID string) (string, bool) {
	resolver := firstSecretProvider(secretProviders)
	return func(providerID string) (string, bool) {
		settings, ok := cfg.Providers[strings.TrimSpace(providerID)]
		if !ok || !settings.WebhookEnabled {
			return "", false
		}
		secret, err := secrets.Resolve(context.Background(), resolver, settings.WebhookSecret)
		if err != nil || secret == "" {
			return "", false
		}
		return secret, true
	}
}

func buildConfiguredAdapter(id string, settings ProviderConfig, resolver core.SecretProvider) (core.ProviderAdapter, error) {
	apiKey, err := secrets.Resolve(context.Background(), resolver, settings.APIKey)
	if err != nil {
		return nil, fmt.Errorf("smsbroker: resolve api key for provider %q: %w", id, err)
	}
	switch strings.TrimSpace(strings.ToLower(id)) {
	case smshub.ProviderID:
		return smshub.New(smshub.Config{
			APIKey:  apiKey,
			BaseURL: settings.BaseURL,
		})
	case ringotp.ProviderID:
		return ringotp.New(ringotp.Config{
			APIKey:  apiKey,
			BaseURL: settings.BaseURL,
		})
	case devkit.ProviderID:
		return devkit.NewAdapter(), nil
	default:
		return nil, fmt.Errorf("smsbroker: unknown provider %q", id)
	}
}

func firstSecretProvider(providers []core.SecretProvider) core.SecretProvider {
	for _, provider := range providers {
		if provider != nil {
			return provider
		}
	}
	return nil
}
