package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

func TestProcessor_DedupesDeliveries(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		result: core.InboundResult{
			Accepted:   true,
			StatusCode: 200,
		},
	}
	processor := NewProcessor(stubVerifier{err: nil}, ledger, handler)

	req := core.InboundRequest{
		ProviderID: "ringotp",
		Metadata: map[string]any{
			"message_id": "msg-1",
		},
	}

	first, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process first webhook: %v", err)
	}
	if !first.Accepted {
		t.Fatalf("expected first delivery accepted")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler to be called once")
	}

	second, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process duplicate webhook: %v", err)
	}
	if !second.Accepted {
		t.Fatalf("expected duplicate to be accepted as deduped")
	}
	if second.Metadata["deduped"] != true {
		t.Fatalf("expected deduped metadata marker")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler call count to remain unchanged for duplicate")
	}

	record, err := ledger.Get(context.Background(), "ringotp", "msg-1")
	if err != nil {
		t.Fatalf("load delivery record: %v", err)
	}
	if record.Status != DeliveryStatusProcessed {
		t.Fatalf("expected processed status, got %q", record.Status)
	}
}

func TestProcessor_RecordsRetryOnHandlerFailure(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		err: errors.New("temporary failure"),
	}
	processor := NewProcessor(stubVerifier{}, ledger, handler)
	processor.RetryPolicy = ExponentialRetryPolicy{Initial: time.Second, Max: 4 * time.Second}
	processor.Now = func() time.Time {
		return time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	}

	req := core.InboundRequest{
		ProviderID: "ringotp",
		Headers: map[string]string{
			"X-Message-Id": "msg-42",
		},
	}
	if _, err := processor.Process(context.Background(), req); err == nil {
		t.Fatalf("expected retryable handler failure")
	}

	record, err := ledger.Get(context.Background(), "ringotp", "msg-42")
	if err != nil {
		t.Fatalf("load delivery record: %v", err)
	}
	if record.Status != DeliveryStatusRetryReady {
		t.Fatalf("expected retry-ready status, got %q", record.Status)
	}
	if record.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", record.Attempts)
	}
}

func TestProcessor_RejectsInvalidSignature(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{}
	processor := NewProcessor(stubVerifier{err: errors.New("signature mismatch")}, ledger, handler)

	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "ringotp",
		Metadata: map[string]any{
			"message_id": "msg-2",
		},
	})
	if err == nil {
		t.Fatalf("expected verifier error")
	}
	if result.StatusCode != 401 {
		t.Fatalf("expected unauthorized status code, got %d", result.StatusCode)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run when verification fails")
	}
	if _, err := ledger.Get(context.Background(), "ringotp", "msg-2"); err == nil {
		t.Fatalf("expected no delivery record for rejected webhook")
	}
}

func TestProcessor_MissingMessageIDReturnsBadRequest(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{}
	processor := NewProcessor(stubVerifier{}, ledger, handler)

	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "ringotp",
		Body:       []byte(`{"text":"no id"}`),
	})
	if err == nil {
		t.Fatalf("expected extractor error")
	}
	if result.StatusCode != 400 {
		t.Fatalf("expected bad request status code, got %d", result.StatusCode)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run for malformed delivery")
	}
}

func TestProcessor_MalformedPayloadLeavesNoDedupeState(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		result: core.InboundResult{Accepted: true, StatusCode: 400, Metadata: map[string]any{"malformed": true}},
	}
	processor := NewProcessor(stubVerifier{}, ledger, handler)

	req := core.InboundRequest{
		ProviderID: "ringotp",
		Body:       []byte(`{"broken`),
		Metadata: map[string]any{
			"message_id": "msg-7",
		},
	}
	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process malformed webhook: %v", err)
	}
	if result.StatusCode != 400 {
		t.Fatalf("expected bad request status, got %d", result.StatusCode)
	}
	if _, err := ledger.Get(context.Background(), "ringotp", "msg-7"); err == nil {
		t.Fatalf("expected no dedupe record for the malformed delivery")
	}

	// The vendor fixes the payload and retries under the same message id; the
	// retry must process, not dedupe.
	handler.result = core.InboundResult{Accepted: true, StatusCode: 200}
	req.Body = []byte(`{"verification_id":"ver-1","code":"482913"}`)
	retried, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process corrected webhook: %v", err)
	}
	if retried.StatusCode != 200 || retried.Metadata["deduped"] == true {
		t.Fatalf("expected corrected retry to process, got %+v", retried)
	}
	if handler.calls != 2 {
		t.Fatalf("expected handler to run for both deliveries, got %d", handler.calls)
	}
	record, err := ledger.Get(context.Background(), "ringotp", "msg-7")
	if err != nil {
		t.Fatalf("load delivery record: %v", err)
	}
	if record.Status != DeliveryStatusProcessed {
		t.Fatalf("expected processed status after the retry, got %q", record.Status)
	}
}

func TestProcessor_CoalescesWebhookBursts(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		result: core.InboundResult{Accepted: true, StatusCode: 200},
	}
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	processor := NewProcessor(stubVerifier{}, ledger, handler)
	processor.Burst = NewBurstController(BurstOptions{
		Mode:   BurstModeCoalesce,
		Window: 10 * time.Second,
		Now: func() time.Time {
			return now
		},
	})

	first, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "ringotp",
		Metadata: map[string]any{
			"message_id":      "msg-1",
			"verification_id": "ver-1",
		},
	})
	if err != nil {
		t.Fatalf("process first burst webhook: %v", err)
	}
	if !first.Accepted {
		t.Fatalf("expected first webhook accepted")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler calls=1, got %d", handler.calls)
	}

	now = now.Add(2 * time.Second)
	second, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "ringotp",
		Metadata: map[string]any{
			"message_id":      "msg-2",
			"verification_id": "ver-1",
		},
	})
	if err != nil {
		t.Fatalf("process coalesced webhook: %v", err)
	}
	if !second.Accepted {
		t.Fatalf("expected coalesced webhook accepted")
	}
	if second.Metadata["coalesced"] != true {
		t.Fatalf("expected coalesced metadata marker")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler calls to remain 1 for coalesced webhook")
	}
}

func TestMemoryDeliveryLedger_PurgeKeepsInflightClaims(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	settled, claimed, err := ledger.Claim(context.Background(), "ringotp", "msg-1", nil, 30*time.Second)
	if err != nil || !claimed {
		t.Fatalf("claim settled delivery: claimed=%v err=%v", claimed, err)
	}
	if err := ledger.Complete(context.Background(), settled.ClaimID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, claimed, err = ledger.Claim(context.Background(), "ringotp", "msg-2", nil, 30*time.Second); err != nil || !claimed {
		t.Fatalf("claim inflight delivery: claimed=%v err=%v", claimed, err)
	}

	now = now.Add(80 * time.Hour)
	purged, err := ledger.PurgeBefore(context.Background(), now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged delivery, got %d", purged)
	}
	if _, err := ledger.Get(context.Background(), "ringotp", "msg-2"); err != nil {
		t.Fatalf("expected inflight delivery to survive purge: %v", err)
	}
}

func TestJanitor_RunOncePurgesPastRetention(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	record, claimed, err := ledger.Claim(context.Background(), "ringotp", "msg-1", nil, 30*time.Second)
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	if err := ledger.Complete(context.Background(), record.ClaimID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	janitor := NewJanitor(ledger, 72*time.Hour)
	janitor.Now = func() time.Time { return now.Add(73 * time.Hour) }

	purged, err := janitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged delivery, got %d", purged)
	}
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(context.Context, core.InboundRequest) error {
	return v.err
}

type stubWebhookHandler struct {
	result core.InboundResult
	err    error
	calls  int
}

func (h *stubWebhookHandler) Handle(context.Context, core.InboundRequest) (core.InboundResult, error) {
	h.calls++
	if h.err != nil {
		return core.InboundResult{}, h.err
	}
	return h.result, nil
}
