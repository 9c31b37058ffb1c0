package smsbroker

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
	"github.com/goliatone/go-smsbroker/webhooks"
)

// NewWebhookProcessor assembles the inbound webhook pipeline around a running
// service: per-provider HMAC verification against configured secrets, dedupe
// through the given delivery ledger, and burst handling per
// cfg.WebhookBurst. A nil ledger falls back to the embedded in-memory one.
func NewWebhookProcessor(
	svc *Service,
	cfg Config,
	ledger webhooks.DeliveryLedger,
	secretProviders ...core.SecretProvider,
) (*webhooks.Processor, error) {
	if svc == nil {
		return nil, fmt.Errorf("smsbroker: service is required")
	}
	if ledger == nil {
		ledger = webhooks.NewMemoryDeliveryLedger()
	}

	processor := webhooks.NewProcessor(
		webhooks.ProviderSecretVerifier{
			Secrets: WebhookSecretLookup(cfg, secretProviders...),
		},
		ledger,
		webhooks.NewSMSHandler(svc),
	)
	if mode := strings.ToLower(strings.TrimSpace(cfg.WebhookBurst.Mode)); mode != "" && mode != string(webhooks.BurstModeNone) {
		processor.Burst = webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstMode(mode),
			Window: cfg.WebhookBurst.Window,
		})
	}
	return processor, nil
}
