package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
)

// CodeApplier is the lifecycle surface the webhook handler drives.
// *core.Service satisfies it.
type CodeApplier interface {
	ApplyCode(ctx context.Context, in core.ApplyCodeInput) (core.VerificationView, error)
}

type inboundPayload struct {
	MessageID              string `json:"message_id"`
	VerificationID         string `json:"verification_id"`
	ProviderVerificationID string `json:"provider_verification_id"`
	ActivationID           string `json:"activation_id"`
	PhoneNumber            string `json:"phone_number"`
	ServiceName            string `json:"service"`
	Code                   string `json:"code"`
	Text                   string `json:"text"`
}

// SMSHandler turns a verified, deduped webhook payload into an ApplyCode
// call. A payload missing both a code and extractable text is malformed and
// acknowledged with 400 so the vendor stops retrying it.
type SMSHandler struct {
	Applier   CodeApplier
	Extractor *core.CodeExtractor
}

func NewSMSHandler(applier CodeApplier) *SMSHandler {
	return &SMSHandler{
		Applier:   applier,
		Extractor: core.NewCodeExtractor(),
	}
}

func (h *SMSHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.Applier == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: sms handler requires an applier")
	}

	var payload inboundPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return malformedResult(req.ProviderID, "invalid json"), nil
	}

	providerRef := strings.TrimSpace(payload.ProviderVerificationID)
	if providerRef == "" {
		providerRef = strings.TrimSpace(payload.ActivationID)
	}
	if strings.TrimSpace(payload.VerificationID) == "" && providerRef == "" {
		return malformedResult(req.ProviderID, "missing verification reference"), nil
	}

	code := strings.TrimSpace(payload.Code)
	if code == "" && h.Extractor != nil {
		if extracted, ok := h.Extractor.Extract(payload.ServiceName, payload.Text); ok {
			code = extracted
		}
	}
	if code == "" {
		return malformedResult(req.ProviderID, "no code in payload"), nil
	}

	view, err := h.Applier.ApplyCode(ctx, core.ApplyCodeInput{
		VerificationID:         strings.TrimSpace(payload.VerificationID),
		ProviderID:             strings.TrimSpace(req.ProviderID),
		ProviderVerificationID: providerRef,
		Code:                   code,
		ProviderMessageID:      strings.TrimSpace(payload.MessageID),
		Source:                 "webhook",
	})
	if err != nil {
		return core.InboundResult{}, err
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"verification_id": view.VerificationID,
			"status":          string(view.Status),
		},
	}, nil
}

func malformedResult(providerID, reason string) core.InboundResult {
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusBadRequest,
		Metadata: map[string]any{
			"provider_id": strings.TrimSpace(providerID),
			"malformed":   true,
			"reason":      reason,
		},
	}
}

var _ Handler = (*SMSHandler)(nil)
