package smsbroker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-smsbroker/core"
	"github.com/goliatone/go-smsbroker/providers/devkit"
	"github.com/goliatone/go-smsbroker/secrets"
)

func TestRegisterConfiguredProviders_DecryptsEnvelopedAPIKeys(t *testing.T) {
	ctx := context.Background()
	secretProvider, err := secrets.NewAppKeyProviderFromString("deployment-app-key")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	sealed, err := secretProvider.Encrypt(ctx, []byte("smshub-api-key"))
	if err != nil {
		t.Fatalf("encrypt api key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"smshub": {Enabled: true, APIKey: string(sealed), BaseURL: "https://smshub.example", CostEstimate: 45},
		"devkit": {Enabled: true, CostEstimate: 5},
		"legacy": {Enabled: false},
	}

	registry := core.NewHealthRegistry(DefaultConfig().Circuit, DefaultConfig().Selection)
	if err := RegisterConfiguredProviders(registry, cfg, secretProvider); err != nil {
		t.Fatalf("register providers: %v", err)
	}

	providers := registry.Providers()
	if len(providers) != 2 {
		t.Fatalf("expected 2 registered providers, got %v", providers)
	}
	if _, ok := registry.Adapter("smshub"); !ok {
		t.Fatalf("expected smshub adapter")
	}
	if _, ok := registry.Adapter("legacy"); ok {
		t.Fatalf("expected disabled provider to be skipped")
	}
}

func TestRegisterConfiguredProviders_FailsOnEnvelopeWithoutProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"smshub": {Enabled: true, APIKey: secrets.EnvelopePrefix + `{"ciphertext":"x"}`},
	}

	registry := core.NewHealthRegistry(DefaultConfig().Circuit, DefaultConfig().Selection)
	if err := RegisterConfiguredProviders(registry, cfg); err == nil {
		t.Fatalf("expected enveloped key without secret provider to fail")
	}
}

func TestRegisterConfiguredProviders_RejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"smspit": {Enabled: true},
	}
	registry := core.NewHealthRegistry(DefaultConfig().Circuit, DefaultConfig().Selection)
	if err := RegisterConfiguredProviders(registry, cfg); err == nil {
		t.Fatalf("expected unknown provider id to fail")
	}
}

func TestWebhookSecretLookup_ResolvesEnvelopedSecrets(t *testing.T) {
	ctx := context.Background()
	secretProvider, _ := secrets.NewAppKeyProviderFromString("deployment-app-key")
	sealed, err := secretProvider.Encrypt(ctx, []byte("hook-secret"))
	if err != nil {
		t.Fatalf("encrypt webhook secret: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"smshub":  {Enabled: true, WebhookEnabled: true, WebhookSecret: string(sealed)},
		"ringotp": {Enabled: true, WebhookEnabled: true, WebhookSecret: "plain-secret"},
		"devkit":  {Enabled: true},
	}

	lookup := WebhookSecretLookup(cfg, secretProvider)
	if secret, ok := lookup("smshub"); !ok || secret != "hook-secret" {
		t.Fatalf("expected decrypted webhook secret, got %q ok=%v", secret, ok)
	}
	if secret, ok := lookup("ringotp"); !ok || secret != "plain-secret" {
		t.Fatalf("expected plaintext webhook secret, got %q ok=%v", secret, ok)
	}
	// Polling-only providers have no webhook secret to hand out.
	if _, ok := lookup("devkit"); ok {
		t.Fatalf("expected webhook-disabled provider to resolve nothing")
	}
	if _, ok := lookup("missing"); ok {
		t.Fatalf("expected unknown provider to resolve nothing")
	}
}

func TestNewWebhookProcessor_SignedDeliveryCompletesVerification(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"devkit": {Enabled: true, WebhookEnabled: true, WebhookSecret: "plain-secret", CostEstimate: 5},
	}

	ledger := core.NewMemoryLedger()
	ledger.Credit("usr_1", 100)
	svc, err := NewService(cfg, WithCreditLedger(ledger))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Registry().Register(devkit.NewAdapter(devkit.WithCost(5)), 5); err != nil {
		t.Fatalf("register devkit: %v", err)
	}

	view, err := svc.Create(ctx, CreateVerificationRequest{
		UserID:      "usr_1",
		ServiceName: "telegram",
		Country:     "US",
	})
	if err != nil {
		t.Fatalf("create verification: %v", err)
	}

	processor, err := NewWebhookProcessor(svc, cfg, nil)
	if err != nil {
		t.Fatalf("new webhook processor: %v", err)
	}
	if processor.Burst != nil {
		t.Fatalf("expected burst handling off under the default config")
	}

	body := []byte(fmt.Sprintf(
		`{"message_id":"msg-1","verification_id":%q,"code":"482913"}`,
		view.VerificationID,
	))
	mac := hmac.New(sha256.New, []byte("plain-secret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	result, err := processor.Process(ctx, core.InboundRequest{
		ProviderID: "devkit",
		Body:       body,
		Headers:    map[string]string{"X-Signature": signature},
	})
	if err != nil {
		t.Fatalf("process signed webhook: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("expected accepted delivery, got %+v", result)
	}

	completed, err := svc.Get(ctx, view.VerificationID)
	if err != nil {
		t.Fatalf("reload verification: %v", err)
	}
	if completed.Status != core.VerificationStatusCompleted {
		t.Fatalf("expected completed verification, got %s", completed.Status)
	}
	if completed.SMSCode != "482913" {
		t.Fatalf("expected delivered code to land, got %q", completed.SMSCode)
	}

	if _, err := processor.Process(ctx, core.InboundRequest{
		ProviderID: "devkit",
		Body:       body,
		Headers:    map[string]string{"X-Signature": "deadbeef"},
	}); err == nil {
		t.Fatalf("expected tampered signature to be rejected")
	}
}

func TestNewWebhookProcessor_BurstModeFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebhookBurst = core.WebhookBurstConfig{Mode: "coalesce", Window: 5 * time.Second}

	svc, err := NewService(cfg, WithCreditLedger(core.NewMemoryLedger()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	processor, err := NewWebhookProcessor(svc, cfg, nil)
	if err != nil {
		t.Fatalf("new webhook processor: %v", err)
	}
	if processor.Burst == nil {
		t.Fatalf("expected burst controller when mode is coalesce")
	}

	if _, err := NewWebhookProcessor(nil, cfg, nil); err == nil {
		t.Fatalf("expected nil service to be refused")
	}
}

func TestFacade_BuildsCommandsAndQueriesFromService(t *testing.T) {
	svc, err := NewService(DefaultConfig(),
		WithCreditLedger(core.NewMemoryLedger()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Registry().Register(devkit.NewAdapter(), 5); err != nil {
		t.Fatalf("register devkit: %v", err)
	}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.CreateVerification == nil || commands.ApplySMSCode == nil ||
		commands.CancelVerification == nil || commands.SweepTimeouts == nil {
		t.Fatalf("expected fully wired commands, got %+v", commands)
	}
	queries := facade.Queries()
	if queries.GetVerification == nil || queries.ListActiveVerifications == nil ||
		queries.GetProviderHealth == nil || queries.ListProviderHealth == nil {
		t.Fatalf("expected fully wired queries, got %+v", queries)
	}
}
