package core

import (
	"context"
	"testing"
	"time"
)

func testRegistry(now *time.Time) *HealthRegistry {
	registry := NewHealthRegistry(
		CircuitConfig{FailureThreshold: 3, Window: time.Minute, Cooldown: 30 * time.Second},
		SelectionConfig{SuccessWeight: 1.0, CostWeight: 0.25, MaxAcquireAttempts: 3},
	)
	registry.WithClock(func() time.Time { return *now })
	return registry
}

func TestHealthRegistry_RegisterRejectsDuplicates(t *testing.T) {
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := registry.Register(nil, 0); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	if err := registry.Register(&staticAdapter{id: "ringotp"}, -1); err == nil {
		t.Fatalf("expected negative cost estimate to fail")
	}
}

func TestHealthRegistry_CandidatesRankBySuccessAndCost(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "cheap"}, 20); err != nil {
		t.Fatalf("register cheap: %v", err)
	}
	if err := registry.Register(&staticAdapter{id: "pricey"}, 80); err != nil {
		t.Fatalf("register pricey: %v", err)
	}

	candidates := registry.Candidates()
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ProviderID != "cheap" {
		t.Fatalf("expected cheap provider first on equal success, got %q", candidates[0].ProviderID)
	}

	// A worse success rate outweighs the cost edge.
	for i := 0; i < 2; i++ {
		if err := registry.RecordFailure(ctx, "cheap"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := registry.RecordSuccess(ctx, "pricey"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	candidates = registry.Candidates()
	if candidates[0].ProviderID != "pricey" {
		t.Fatalf("expected pricey provider first after cheap failures, got %q", candidates[0].ProviderID)
	}
}

func TestHealthRegistry_CircuitOpensAtThresholdAndCoolsDown(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := registry.RecordFailure(ctx, "smshub"); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}
	health, ok := registry.Snapshot("smshub")
	if !ok || health.CircuitState != CircuitStateOpen {
		t.Fatalf("expected open circuit at threshold, got %+v", health)
	}

	// Inside the cooldown the provider is not a candidate.
	if candidates := registry.Candidates(); len(candidates) != 0 {
		t.Fatalf("expected no candidates during cooldown, got %d", len(candidates))
	}

	// Past the cooldown exactly one half-open trial is handed out.
	now = now.Add(31 * time.Second)
	candidates := registry.Candidates()
	if len(candidates) != 1 || !candidates[0].Trial {
		t.Fatalf("expected a single trial candidate, got %+v", candidates)
	}
	if again := registry.Candidates(); len(again) != 0 {
		t.Fatalf("expected trial slot to be exclusive, got %d candidates", len(again))
	}

	// A successful trial closes the circuit and the provider ranks normally.
	if err := registry.RecordSuccess(ctx, "smshub"); err != nil {
		t.Fatalf("record trial success: %v", err)
	}
	health, _ = registry.Snapshot("smshub")
	if health.CircuitState != CircuitStateClosed {
		t.Fatalf("expected closed circuit after trial success, got %s", health.CircuitState)
	}
	if candidates := registry.Candidates(); len(candidates) != 1 || candidates[0].Trial {
		t.Fatalf("expected a normal candidate after close, got %+v", candidates)
	}
}

func TestHealthRegistry_FailedTrialReopens(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = registry.RecordFailure(ctx, "smshub")
	}
	now = now.Add(31 * time.Second)
	if candidates := registry.Candidates(); len(candidates) != 1 {
		t.Fatalf("expected trial candidate, got %d", len(candidates))
	}

	if err := registry.RecordFailure(ctx, "smshub"); err != nil {
		t.Fatalf("record trial failure: %v", err)
	}
	health, _ := registry.Snapshot("smshub")
	if health.CircuitState != CircuitStateOpen {
		t.Fatalf("expected reopened circuit after failed trial, got %s", health.CircuitState)
	}

	// The fresh open starts a new cooldown.
	if candidates := registry.Candidates(); len(candidates) != 0 {
		t.Fatalf("expected no candidates right after reopen, got %d", len(candidates))
	}
	now = now.Add(31 * time.Second)
	if candidates := registry.Candidates(); len(candidates) != 1 {
		t.Fatalf("expected a new trial after the second cooldown, got %d", len(candidates))
	}
}

func TestHealthRegistry_ReleaseTrialReturnsProbeSlot(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = registry.RecordFailure(ctx, "smshub")
	}
	now = now.Add(31 * time.Second)

	candidates := registry.Candidates()
	if len(candidates) != 1 || !candidates[0].Trial {
		t.Fatalf("expected trial candidate, got %+v", candidates)
	}

	// The caller never invoked the adapter; without the release the probe
	// slot would starve every later selection round.
	registry.ReleaseTrial("smshub")
	if candidates := registry.Candidates(); len(candidates) != 1 || !candidates[0].Trial {
		t.Fatalf("expected released trial to be offered again, got %+v", candidates)
	}
}

func TestHealthRegistry_WindowRollResetsCounters(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = registry.RecordFailure(ctx, "smshub")
	_ = registry.RecordFailure(ctx, "smshub")

	now = now.Add(2 * time.Minute)
	if err := registry.RecordFailure(ctx, "smshub"); err != nil {
		t.Fatalf("record failure after roll: %v", err)
	}
	health, _ := registry.Snapshot("smshub")
	if health.CircuitState != CircuitStateClosed {
		t.Fatalf("expected stale failures to age out, got %s", health.CircuitState)
	}
	if health.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 consecutive failure in the new window, got %d", health.ConsecutiveFailures)
	}
}

func TestHealthRegistry_PersistsToHealthStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	registry := testRegistry(&now)
	store := NewMemoryProviderHealthStore()
	registry.WithHealthStore(store)

	if err := registry.Register(&staticAdapter{id: "smshub"}, 45); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.RecordSuccess(ctx, "smshub"); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := registry.SetBalance(ctx, "smshub", 2500); err != nil {
		t.Fatalf("set balance: %v", err)
	}

	persisted, err := store.Get(ctx, "smshub")
	if err != nil {
		t.Fatalf("expected persisted health row: %v", err)
	}
	if persisted.Successes != 1 {
		t.Fatalf("expected persisted success count, got %d", persisted.Successes)
	}
	if persisted.AvailableBalance != 2500 {
		t.Fatalf("expected persisted balance, got %d", persisted.AvailableBalance)
	}
}

func TestHealthRegistry_SnapshotsSorted(t *testing.T) {
	now := time.Now().UTC()
	registry := testRegistry(&now)
	_ = registry.Register(&staticAdapter{id: "zeta"}, 10)
	_ = registry.Register(&staticAdapter{id: "alpha"}, 10)

	snapshots := registry.Snapshots()
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if snapshots[0].ProviderID != "alpha" || snapshots[1].ProviderID != "zeta" {
		t.Fatalf("expected sorted snapshots, got %+v", snapshots)
	}

	providers := registry.Providers()
	if len(providers) != 2 || providers[0] != "alpha" {
		t.Fatalf("expected sorted provider ids, got %v", providers)
	}
}

type staticAdapter struct {
	id string
}

func (a *staticAdapter) ID() string { return a.id }

func (a *staticAdapter) AcquireNumber(context.Context, AcquireRequest) (NumberHandle, error) {
	return NumberHandle{}, nil
}

func (a *staticAdapter) CheckMessages(context.Context, NumberHandle) ([]InboundMessage, error) {
	return nil, nil
}

func (a *staticAdapter) Cancel(context.Context, NumberHandle) (CancelResult, error) {
	return CancelResult{}, nil
}

func (a *staticAdapter) Balance(context.Context) (int64, error) {
	return 0, nil
}
