package smshub

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

const (
	ProviderID     = "smshub"
	DefaultBaseURL = "https://smshub.example.com/stubs/handler_api.php"
)

// serviceCodes maps broker service names to the vendor's activation codes.
var serviceCodes = map[string]string{
	"telegram": "tg",
	"whatsapp": "wa",
	"google":   "go",
	"viber":    "vi",
	"discord":  "ds",
}

// countryCodes maps ISO country codes to the vendor's numeric identifiers.
var countryCodes = map[string]string{
	"RU": "0",
	"UA": "1",
	"KZ": "2",
	"US": "12",
	"GB": "16",
}

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider speaks the vendor's activation protocol: plain-text responses
// like ACCESS_NUMBER:<id>:<phone> and STATUS_OK:<code> over a single GET
// endpoint.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("providers/smshub: api key is required")
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
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) AcquireNumber(ctx context.Context, req core.AcquireRequest) (core.NumberHandle, error) {
	service, ok := serviceCodes[strings.TrimSpace(strings.ToLower(req.ServiceName))]
	if !ok {
		return core.NumberHandle{}, core.NewProviderError(
			ProviderID, core.ProviderErrorInsufficientInventory,
			fmt.Sprintf("unsupported service %q", req.ServiceName), nil,
		)
	}
	country, ok := countryCodes[strings.TrimSpace(strings.ToUpper(req.Country))]
	if !ok {
		return core.NumberHandle{}, core.NewProviderError(
			ProviderID, core.ProviderErrorInsufficientInventory,
			fmt.Sprintf("unsupported country %q", req.Country), nil,
		)
	}

	body, err := p.call(ctx, url.Values{
		"action":  {"getNumber"},
		"service": {service},
		"country": {country},
	})
	if err != nil {
		return core.NumberHandle{}, err
	}

	// ACCESS_NUMBER:<activation_id>:<phone>
	parts := strings.SplitN(body, ":", 3)
	if len(parts) != 3 || parts[0] != "ACCESS_NUMBER" {
		return core.NumberHandle{}, classifyError(body)
	}
	return core.NumberHandle{
		ProviderID:             ProviderID,
		ProviderVerificationID: strings.TrimSpace(parts[1]),
		PhoneNumber:            normalizePhone(parts[2]),
	}, nil
}

func (p *Provider) CheckMessages(ctx context.Context, handle core.NumberHandle) ([]core.InboundMessage, error) {
	body, err := p.call(ctx, url.Values{
		"action": {"getStatus"},
		"id":     {strings.TrimSpace(handle.ProviderVerificationID)},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(body, "STATUS_OK:"):
		code := strings.TrimSpace(strings.TrimPrefix(body, "STATUS_OK:"))
		return []core.InboundMessage{{
			ProviderMessageID: handle.ProviderVerificationID + ":" + code,
			Status:            core.MessageStatusReceived,
			Text:              code,
			ReceivedAt:        time.Now().UTC(),
		}}, nil
	case body == "STATUS_WAIT_RETRY", strings.HasPrefix(body, "STATUS_WAIT_RETRY:"):
		// The vendor saw activity but no final code yet.
		return []core.InboundMessage{{Status: core.MessageStatusPending}}, nil
	case body == "STATUS_WAIT_CODE":
		return nil, nil
	case body == "STATUS_CANCEL":
		return nil, nil
	}
	return nil, classifyError(body)
}

func (p *Provider) Cancel(ctx context.Context, handle core.NumberHandle) (core.CancelResult, error) {
	body, err := p.call(ctx, url.Values{
		"action": {"setStatus"},
		"status": {"8"},
		"id":     {strings.TrimSpace(handle.ProviderVerificationID)},
	})
	if err != nil {
		return core.CancelResult{}, err
	}
	if body == "ACCESS_CANCEL" {
		return core.CancelResult{RefundEligible: true}, nil
	}
	if body == "ACCESS_ACTIVATION" || body == "EARLY_CANCEL_DENIED" {
		return core.CancelResult{RefundEligible: false}, nil
	}
	return core.CancelResult{}, classifyError(body)
}

func (p *Provider) Balance(ctx context.Context) (int64, error) {
	body, err := p.call(ctx, url.Values{"action": {"getBalance"}})
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(body, "ACCESS_BALANCE:") {
		return 0, classifyError(body)
	}
	raw := strings.TrimSpace(strings.TrimPrefix(body, "ACCESS_BALANCE:"))
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, core.NewProviderError(ProviderID, core.ProviderErrorUnknown,
			fmt.Sprintf("unparseable balance %q", raw), err)
	}
	return int64(math.Round(amount * 100)), nil
}

func (p *Provider) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("api_key", p.apiKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", core.NewProviderError(ProviderID, core.ProviderErrorUnknown, "build request", err)
	}
	response, err := p.client.Do(request)
	if err != nil {
		return "", core.NewProviderError(ProviderID, core.ProviderErrorUnavailable, "request failed", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return "", core.NewProviderError(ProviderID, core.ProviderErrorUnavailable, "read response", err)
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return "", core.NewProviderError(ProviderID, core.ProviderErrorRateLimited,
			"vendor throttled the request", nil)
	}
	if response.StatusCode >= 500 {
		return "", core.NewProviderError(ProviderID, core.ProviderErrorUnavailable,
			fmt.Sprintf("vendor returned status %d", response.StatusCode), nil)
	}
	return strings.TrimSpace(string(raw)), nil
}

func classifyError(body string) *core.ProviderError {
	switch body {
	case "NO_NUMBERS":
		return core.NewProviderError(ProviderID, core.ProviderErrorInsufficientInventory,
			"no numbers available", nil)
	case "NO_BALANCE":
		return core.NewProviderError(ProviderID, core.ProviderErrorUnavailable,
			"vendor account has no balance", nil)
	case "BAD_KEY", "BAD_ACTION":
		return core.NewProviderError(ProviderID, core.ProviderErrorAuth,
			"vendor rejected credentials", nil)
	}
	return core.NewProviderError(ProviderID, core.ProviderErrorUnknown,
		fmt.Sprintf("unexpected response %q", body), nil)
}

func normalizePhone(raw string) string {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return ""
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}

var _ core.ProviderAdapter = (*Provider)(nil)
