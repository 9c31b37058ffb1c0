package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

type fakeApplier struct {
	mu     sync.Mutex
	inputs []core.ApplyCodeInput
	err    error
}

func (f *fakeApplier) ApplyCode(_ context.Context, in core.ApplyCodeInput) (core.VerificationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return core.VerificationView{}, f.err
	}
	f.inputs = append(f.inputs, in)
	return core.VerificationView{
		VerificationID: in.VerificationID,
		Status:         core.VerificationStatusCompleted,
		SMSCode:        in.Code,
	}, nil
}

func (f *fakeApplier) applied() []core.ApplyCodeInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.ApplyCodeInput, len(f.inputs))
	copy(out, f.inputs)
	return out
}

type scriptedAdapter struct {
	id       string
	messages []core.InboundMessage
	err      error
	calls    int
}

func (a *scriptedAdapter) ID() string { return a.id }

func (a *scriptedAdapter) AcquireNumber(context.Context, core.AcquireRequest) (core.NumberHandle, error) {
	return core.NumberHandle{}, fmt.Errorf("not implemented")
}

func (a *scriptedAdapter) CheckMessages(context.Context, core.NumberHandle) ([]core.InboundMessage, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.messages, nil
}

func (a *scriptedAdapter) Cancel(context.Context, core.NumberHandle) (core.CancelResult, error) {
	return core.CancelResult{}, nil
}

func (a *scriptedAdapter) Balance(context.Context) (int64, error) { return 0, nil }

type fakeAdapterSource struct {
	adapters  map[string]core.ProviderAdapter
	successes int
	failures  int
}

func (f *fakeAdapterSource) Adapter(providerID string) (core.ProviderAdapter, bool) {
	adapter, ok := f.adapters[providerID]
	return adapter, ok
}

func (f *fakeAdapterSource) RecordSuccess(context.Context, string) error {
	f.successes++
	return nil
}

func (f *fakeAdapterSource) RecordFailure(context.Context, string) error {
	f.failures++
	return nil
}

func newTestScheduler(t *testing.T, applier CodeApplier, source AdapterSource) *Scheduler {
	t.Helper()
	s, err := New(applier, source, core.PollingConfig{
		InitialInterval: 5 * time.Second,
		Multiplier:      1.5,
		MaxInterval:     30 * time.Second,
		Workers:         2,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestScheduler_PollAppliesReceivedCode(t *testing.T) {
	applier := &fakeApplier{}
	adapter := &scriptedAdapter{
		id: "smshub",
		messages: []core.InboundMessage{
			{ProviderMessageID: "m1", Status: core.MessageStatusReceived, Text: "Your code is 431976"},
		},
	}
	source := &fakeAdapterSource{adapters: map[string]core.ProviderAdapter{"smshub": adapter}}
	s := newTestScheduler(t, applier, source)

	task := core.PollTask{
		VerificationID: "ver_1",
		ProviderID:     "smshub",
		ServiceName:    "telegram",
		Handle:         core.NumberHandle{ProviderID: "smshub", ProviderVerificationID: "act_9"},
	}
	if err := s.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Poll(context.Background(), task)

	applied := applier.applied()
	if len(applied) != 1 {
		t.Fatalf("expected one applied code, got %d", len(applied))
	}
	if applied[0].Code != "431976" {
		t.Fatalf("expected extracted code 431976, got %q", applied[0].Code)
	}
	if applied[0].Source != "poll" {
		t.Fatalf("expected poll source, got %q", applied[0].Source)
	}
	if source.successes != 1 {
		t.Fatalf("expected one recorded success, got %d", source.successes)
	}

	s.mu.Lock()
	_, stillRegistered := s.entries["ver_1"]
	s.mu.Unlock()
	if stillRegistered {
		t.Fatalf("expected task deregistered after applied code")
	}
}

func TestScheduler_PollFailureCountsAgainstProvider(t *testing.T) {
	applier := &fakeApplier{}
	adapter := &scriptedAdapter{id: "smshub", err: fmt.Errorf("boom")}
	source := &fakeAdapterSource{adapters: map[string]core.ProviderAdapter{"smshub": adapter}}
	s := newTestScheduler(t, applier, source)

	task := core.PollTask{VerificationID: "ver_1", ProviderID: "smshub"}
	if err := s.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Poll(context.Background(), task)

	if source.failures != 1 {
		t.Fatalf("expected one recorded failure, got %d", source.failures)
	}
	if len(applier.applied()) != 0 {
		t.Fatalf("expected no applied codes")
	}

	s.mu.Lock()
	_, stillRegistered := s.entries["ver_1"]
	s.mu.Unlock()
	if !stillRegistered {
		t.Fatalf("expected task to stay registered after a failed poll")
	}
}

func TestScheduler_PollFailureStreakTrackedPerTask(t *testing.T) {
	applier := &fakeApplier{}
	adapter := &scriptedAdapter{id: "smshub", err: fmt.Errorf("boom")}
	source := &fakeAdapterSource{adapters: map[string]core.ProviderAdapter{"smshub": adapter}}
	s := newTestScheduler(t, applier, source)

	task := core.PollTask{VerificationID: "ver_1", ProviderID: "smshub"}
	if err := s.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}
	other := core.PollTask{VerificationID: "ver_2", ProviderID: "smshub"}
	if err := s.Register(other); err != nil {
		t.Fatalf("register second task: %v", err)
	}

	s.Poll(context.Background(), task)
	s.Poll(context.Background(), task)

	if got := s.PollAttempts("ver_1"); got != 2 {
		t.Fatalf("expected 2 failed polls recorded, got %d", got)
	}
	if got := s.PollAttempts("ver_2"); got != 0 {
		t.Fatalf("expected untouched task to stay at 0, got %d", got)
	}

	// A successful poll ends the streak even when it carries no message yet.
	adapter.err = nil
	s.Poll(context.Background(), task)
	if got := s.PollAttempts("ver_1"); got != 0 {
		t.Fatalf("expected streak cleared after successful poll, got %d", got)
	}

	if got := s.PollAttempts("ver_unknown"); got != 0 {
		t.Fatalf("expected 0 attempts for unknown id, got %d", got)
	}
}

func TestScheduler_PendingSignalResetsBackoff(t *testing.T) {
	applier := &fakeApplier{}
	adapter := &scriptedAdapter{
		id:       "smshub",
		messages: []core.InboundMessage{{Status: core.MessageStatusPending}},
	}
	source := &fakeAdapterSource{adapters: map[string]core.ProviderAdapter{"smshub": adapter}}
	s := newTestScheduler(t, applier, source)

	task := core.PollTask{VerificationID: "ver_1", ProviderID: "smshub"}
	if err := s.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.mu.Lock()
	s.entries["ver_1"].interval = 30 * time.Second
	s.mu.Unlock()

	s.Poll(context.Background(), task)

	s.mu.Lock()
	interval := s.entries["ver_1"].interval
	s.mu.Unlock()
	if interval != 5*time.Second {
		t.Fatalf("expected backoff reset to 5s, got %s", interval)
	}
}

func TestScheduler_BackoffGrowsGeometricallyWithCap(t *testing.T) {
	s := newTestScheduler(t, &fakeApplier{}, &fakeAdapterSource{})

	interval := 5 * time.Second
	expected := []time.Duration{
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
		25312500 * time.Microsecond,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range expected {
		interval = s.grow(interval)
		if interval != want {
			t.Fatalf("step %d: expected %s, got %s", i, want, interval)
		}
	}
}

func TestScheduler_RateLimitedPollKeepsTask(t *testing.T) {
	applier := &fakeApplier{}
	adapter := &scriptedAdapter{id: "smshub"}
	source := &fakeAdapterSource{adapters: map[string]core.ProviderAdapter{"smshub": adapter}}
	s, err := New(applier, source, core.PollingConfig{}, WithRateLimitPolicy(denyAllPolicy{}))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	task := core.PollTask{VerificationID: "ver_1", ProviderID: "smshub"}
	if err := s.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Poll(context.Background(), task)

	if adapter.calls != 0 {
		t.Fatalf("expected provider untouched when rate limited")
	}
	s.mu.Lock()
	_, stillRegistered := s.entries["ver_1"]
	s.mu.Unlock()
	if !stillRegistered {
		t.Fatalf("expected task to stay registered")
	}
}

func TestScheduler_ReloadRebuildsFromStore(t *testing.T) {
	store := core.NewMemoryVerificationStore()
	now := time.Now().UTC()
	row := &core.Verification{
		ID:                     "ver_1",
		UserID:                 "usr_1",
		ProviderID:             "smshub",
		ProviderVerificationID: "act_9",
		PhoneNumber:            "+79001234567",
		ServiceName:            "telegram",
		Country:                "RU",
		Status:                 core.VerificationStatusAwaitingSMS,
		CreatedAt:              now,
		ExpiresAt:              now.Add(10 * time.Minute),
	}
	if err := store.Create(context.Background(), row); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	s := newTestScheduler(t, &fakeApplier{}, &fakeAdapterSource{})
	if err := s.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	s.mu.Lock()
	e, ok := s.entries["ver_1"]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("expected task restored from store")
	}
	if e.task.Handle.ProviderVerificationID != "act_9" {
		t.Fatalf("expected provider ref restored, got %q", e.task.Handle.ProviderVerificationID)
	}
}

func TestScheduler_StartAndStopDrainWorkers(t *testing.T) {
	s := newTestScheduler(t, &fakeApplier{}, &fakeAdapterSource{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	s.Stop()
}

type denyAllPolicy struct{}

func (denyAllPolicy) BeforeCall(context.Context, core.RateLimitKey) error {
	return fmt.Errorf("throttled")
}

func (denyAllPolicy) AfterCall(context.Context, core.RateLimitKey, core.ProviderResponseMeta) error {
	return nil
}
