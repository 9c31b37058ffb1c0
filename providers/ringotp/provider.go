package ringotp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

const (
	ProviderID     = "ringotp"
	DefaultBaseURL = "https://api.ringotp.example.com"
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider speaks the vendor's JSON REST API. The vendor also pushes
// delivery webhooks; WebhookProviderVerificationID lets the webhook pipeline
// correlate a payload back to a rented number.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("providers/ringotp: api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

type acquirePayload struct {
	Service  string `json:"service"`
	Country  string `json:"country"`
	MaxPrice int64  `json:"max_price,omitempty"`
}

type numberResponse struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Cost        int64  `json:"cost"`
}

func (p *Provider) AcquireNumber(ctx context.Context, req core.AcquireRequest) (core.NumberHandle, error) {
	payload, err := json.Marshal(acquirePayload{
		Service:  strings.TrimSpace(strings.ToLower(req.ServiceName)),
		Country:  strings.TrimSpace(strings.ToUpper(req.Country)),
		MaxPrice: req.MaxPrice,
	})
	if err != nil {
		return core.NumberHandle{}, core.NewProviderError(ProviderID, core.ProviderErrorUnknown, "encode request", err)
	}

	var number numberResponse
	if err := p.do(ctx, http.MethodPost, "/v1/numbers", payload, &number); err != nil {
		return core.NumberHandle{}, err
	}
	if strings.TrimSpace(number.ID) == "" {
		return core.NumberHandle{}, core.NewProviderError(ProviderID, core.ProviderErrorUnknown,
			"vendor returned no number id", nil)
	}
	return core.NumberHandle{
		ProviderID:             ProviderID,
		ProviderVerificationID: strings.TrimSpace(number.ID),
		PhoneNumber:            strings.TrimSpace(number.PhoneNumber),
		Cost:                   number.Cost,
	}, nil
}

type messagesResponse struct {
	Messages []struct {
		ID         string    `json:"id"`
		Status     string    `json:"status"`
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at"`
	} `json:"messages"`
}

func (p *Provider) CheckMessages(ctx context.Context, handle core.NumberHandle) ([]core.InboundMessage, error) {
	var response messagesResponse
	path := "/v1/numbers/" + strings.TrimSpace(handle.ProviderVerificationID) + "/messages"
	if err := p.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	messages := make([]core.InboundMessage, 0, len(response.Messages))
	for _, message := range response.Messages {
		status := core.MessageStatusReceived
		if strings.EqualFold(message.Status, "pending") {
			status = core.MessageStatusPending
		}
		messages = append(messages, core.InboundMessage{
			ProviderMessageID: strings.TrimSpace(message.ID),
			Status:            status,
			Text:              message.Text,
			ReceivedAt:        message.ReceivedAt,
		})
	}
	return messages, nil
}

type cancelResponse struct {
	RefundEligible bool  `json:"refund_eligible"`
	Fee            int64 `json:"fee"`
}

func (p *Provider) Cancel(ctx context.Context, handle core.NumberHandle) (core.CancelResult, error) {
	var response cancelResponse
	path := "/v1/numbers/" + strings.TrimSpace(handle.ProviderVerificationID)
	if err := p.do(ctx, http.MethodDelete, path, nil, &response); err != nil {
		return core.CancelResult{}, err
	}
	return core.CancelResult{
		RefundEligible: response.RefundEligible,
		Fee:            response.Fee,
	}, nil
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

func (p *Provider) Balance(ctx context.Context) (int64, error) {
	var response balanceResponse
	if err := p.do(ctx, http.MethodGet, "/v1/balance", nil, &response); err != nil {
		return 0, err
	}
	return response.Balance, nil
}

// WebhookProviderVerificationID extracts the rented number reference from a
// pushed payload.
func (p *Provider) WebhookProviderVerificationID(payload map[string]any) (string, bool) {
	for _, key := range []string{"number_id", "provider_verification_id", "activation_id"} {
		if value, ok := payload[key]; ok {
			id := strings.TrimSpace(fmt.Sprint(value))
			if id != "" && id != "<nil>" {
				return id, true
			}
		}
	}
	return "", false
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (p *Provider) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return core.NewProviderError(ProviderID, core.ProviderErrorUnknown, "build request", err)
	}
	request.Header.Set("Authorization", "Bearer "+p.apiKey)
	if len(body) > 0 {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := p.client.Do(request)
	if err != nil {
		return core.NewProviderError(ProviderID, core.ProviderErrorUnavailable, "request failed", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return core.NewProviderError(ProviderID, core.ProviderErrorUnavailable, "read response", err)
	}

	if response.StatusCode >= 400 {
		return classifyStatus(response.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return core.NewProviderError(ProviderID, core.ProviderErrorUnknown, "decode response", err)
	}
	return nil
}

func classifyStatus(statusCode int, raw []byte) *core.ProviderError {
	var detail errorResponse
	_ = json.Unmarshal(raw, &detail)
	message := strings.TrimSpace(detail.Error)
	if message == "" {
		message = fmt.Sprintf("vendor returned status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return core.NewProviderError(ProviderID, core.ProviderErrorRateLimited, message, nil)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return core.NewProviderError(ProviderID, core.ProviderErrorAuth, message, nil)
	case statusCode == http.StatusConflict, statusCode == http.StatusGone:
		return core.NewProviderError(ProviderID, core.ProviderErrorInsufficientInventory, message, nil)
	case statusCode >= 500:
		return core.NewProviderError(ProviderID, core.ProviderErrorUnavailable, message, nil)
	}
	if strings.EqualFold(detail.Code, "no_inventory") {
		return core.NewProviderError(ProviderID, core.ProviderErrorInsufficientInventory, message, nil)
	}
	return core.NewProviderError(ProviderID, core.ProviderErrorUnknown, message, nil)
}

var (
	_ core.ProviderAdapter       = (*Provider)(nil)
	_ core.WebhookCapableAdapter = (*Provider)(nil)
)
