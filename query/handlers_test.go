package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-smsbroker/core"
)

type stubVerificationReader struct {
	view core.VerificationView
	err  error
}

func (s stubVerificationReader) Get(_ context.Context, verificationID string) (core.VerificationView, error) {
	if s.err != nil {
		return core.VerificationView{}, s.err
	}
	if verificationID != s.view.VerificationID {
		return core.VerificationView{}, fmt.Errorf("unknown verification %q", verificationID)
	}
	return s.view, nil
}

type stubHealthReader struct {
	health map[string]core.ProviderHealth
}

func (s stubHealthReader) Snapshot(providerID string) (core.ProviderHealth, bool) {
	health, ok := s.health[providerID]
	return health, ok
}

func (s stubHealthReader) Snapshots() []core.ProviderHealth {
	out := make([]core.ProviderHealth, 0, len(s.health))
	for _, health := range s.health {
		out = append(out, health)
	}
	return out
}

func TestGetVerificationQuery_DelegatesToReader(t *testing.T) {
	reader := stubVerificationReader{view: core.VerificationView{
		VerificationID: "ver_1",
		Status:         core.VerificationStatusAwaitingSMS,
	}}
	q := NewGetVerificationQuery(reader)

	view, err := q.Query(context.Background(), GetVerificationMessage{VerificationID: "ver_1"})
	if err != nil {
		t.Fatalf("query verification: %v", err)
	}
	if view.Status != core.VerificationStatusAwaitingSMS {
		t.Fatalf("unexpected status %q", view.Status)
	}
}

func TestGetProviderHealthQuery_NotFound(t *testing.T) {
	q := NewGetProviderHealthQuery(stubHealthReader{health: map[string]core.ProviderHealth{
		"smshub": {ProviderID: "smshub", CircuitState: core.CircuitStateClosed},
	}})

	health, err := q.Query(context.Background(), GetProviderHealthMessage{ProviderID: "smshub"})
	if err != nil {
		t.Fatalf("query health: %v", err)
	}
	if health.CircuitState != core.CircuitStateClosed {
		t.Fatalf("unexpected circuit state %q", health.CircuitState)
	}

	if _, err := q.Query(context.Background(), GetProviderHealthMessage{ProviderID: "missing"}); err == nil {
		t.Fatalf("expected not-found error for unknown provider")
	}
}

func TestQueries_RequireReader(t *testing.T) {
	if _, err := (&GetVerificationQuery{}).Query(context.Background(), GetVerificationMessage{}); err == nil {
		t.Fatalf("expected dependency error from verification query")
	}
	if _, err := (&ListProviderHealthQuery{}).Query(context.Background(), ListProviderHealthMessage{}); err == nil {
		t.Fatalf("expected dependency error from health list query")
	}
}

func TestListActiveVerificationsMessage_RejectsTerminalStatus(t *testing.T) {
	msg := ListActiveVerificationsMessage{Status: core.VerificationStatusCompleted}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected terminal status to fail validation")
	}
	msg = ListActiveVerificationsMessage{Status: core.VerificationStatusAwaitingSMS}
	if err := msg.Validate(); err != nil {
		t.Fatalf("expected active status to validate: %v", err)
	}
}
