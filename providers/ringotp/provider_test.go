package ringotp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-smsbroker/core"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestProvider_AcquireNumber(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/numbers" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["service"] != "telegram" {
			t.Fatalf("expected telegram service, got %v", payload["service"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "num_42",
			"phone_number": "+15551230000",
			"cost":         180,
		})
	})

	handle, err := provider.AcquireNumber(context.Background(), core.AcquireRequest{
		ServiceName: "Telegram",
		Country:     "us",
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if handle.ProviderVerificationID != "num_42" {
		t.Fatalf("expected number id num_42, got %q", handle.ProviderVerificationID)
	}
	if handle.Cost != 180 {
		t.Fatalf("expected quoted cost 180, got %d", handle.Cost)
	}
}

func TestProvider_CheckMessagesMapsStatuses(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/numbers/num_42/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": "msg_1", "status": "pending"},
				{"id": "msg_2", "status": "received", "text": "Your code is 998877"},
			},
		})
	})

	messages, err := provider.CheckMessages(context.Background(), core.NumberHandle{
		ProviderVerificationID: "num_42",
	})
	if err != nil {
		t.Fatalf("check messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(messages))
	}
	if messages[0].Status != core.MessageStatusPending {
		t.Fatalf("expected first message pending, got %q", messages[0].Status)
	}
	if messages[1].Status != core.MessageStatusReceived {
		t.Fatalf("expected second message received, got %q", messages[1].Status)
	}
}

func TestProvider_CancelReturnsFee(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"refund_eligible": true,
			"fee":             25,
		})
	})

	result, err := provider.Cancel(context.Background(), core.NumberHandle{ProviderVerificationID: "num_42"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !result.RefundEligible || result.Fee != 25 {
		t.Fatalf("expected refundable cancel with fee 25, got %+v", result)
	}
}

func TestProvider_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   core.ProviderErrorKind
	}{
		{"throttled", http.StatusTooManyRequests, `{"error":"slow down"}`, core.ProviderErrorRateLimited},
		{"bad key", http.StatusUnauthorized, `{"error":"bad key"}`, core.ProviderErrorAuth},
		{"no inventory", http.StatusConflict, `{"error":"no numbers"}`, core.ProviderErrorInsufficientInventory},
		{"outage", http.StatusBadGateway, `{"error":"upstream"}`, core.ProviderErrorUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := provider.Balance(context.Background())
			var providerErr *core.ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.Kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, providerErr.Kind)
			}
		})
	}
}

func TestProvider_WebhookProviderVerificationID(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})

	id, ok := provider.WebhookProviderVerificationID(map[string]any{"number_id": "num_42"})
	if !ok || id != "num_42" {
		t.Fatalf("expected num_42, got %q ok=%v", id, ok)
	}
	if _, ok := provider.WebhookProviderVerificationID(map[string]any{"other": "x"}); ok {
		t.Fatalf("expected no reference extracted")
	}
}
