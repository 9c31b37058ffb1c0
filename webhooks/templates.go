package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
)

// ProviderWebhookTemplate bundles the verifier and dedupe extractor for one
// push-capable vendor.
type ProviderWebhookTemplate struct {
	ProviderID string
	Verifier   Verifier
	Extractor  DeliveryIDExtractor
}

type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	}
	return nil
}

type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

// ProviderSecretVerifier routes to a per-provider HMAC secret pulled from
// configuration, so one processor can front every webhook-enabled vendor.
type ProviderSecretVerifier struct {
	Header  string
	Prefix  string
	Secrets func(providerID string) (string, bool)
}

func (v ProviderSecretVerifier) Verify(ctx context.Context, req core.InboundRequest) error {
	if v.Secrets == nil {
		return fmt.Errorf("webhooks: secret lookup is required")
	}
	secret, ok := v.Secrets(strings.TrimSpace(req.ProviderID))
	if !ok || strings.TrimSpace(secret) == "" {
		return fmt.Errorf("webhooks: no webhook secret configured for provider %q", req.ProviderID)
	}
	header := v.Header
	if strings.TrimSpace(header) == "" {
		header = "X-Signature"
	}
	return HeaderHMACVerifier{
		Header:   header,
		Prefix:   v.Prefix,
		Secret:   secret,
		Encoding: "hex",
	}.Verify(ctx, req)
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(headerValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: message id is required for dedupe")
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", fmt.Errorf("webhooks: message id is required for dedupe")
	}
}

func NewRingOTPWebhookTemplate(secret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "ringotp",
		Verifier: HeaderHMACVerifier{
			Header:   "X-Ringotp-Signature",
			Prefix:   "sha256=",
			Secret:   strings.TrimSpace(secret),
			Encoding: "hex",
		},
		Extractor: ChainDeliveryIDExtractors(
			HeaderDeliveryIDExtractor("X-Ringotp-Message-Id"),
			DefaultDeliveryIDExtractor,
		),
	}
}

func NewDevKitWebhookTemplate(token string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "devkit",
		Verifier: HeaderTokenVerifier{
			Header: "X-Devkit-Token",
			Token:  strings.TrimSpace(token),
		},
		Extractor: DefaultDeliveryIDExtractor,
	}
}
