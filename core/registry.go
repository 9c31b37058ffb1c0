package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Candidate is one eligible provider in ranked order. Trial marks the single
// permitted half-open probe call.
type Candidate struct {
	ProviderID string
	Adapter    ProviderAdapter
	Score      float64
	Trial      bool
}

// HealthRegistry owns adapter registration, per-provider circuit state, and
// ranked candidate selection. One instance is constructed at process start
// and injected wherever needed; there are no module-level singletons.
type HealthRegistry struct {
	circuit   CircuitConfig
	selection SelectionConfig
	store     ProviderHealthStore
	now       func() time.Time

	mu        sync.RWMutex
	adapters  map[string]ProviderAdapter
	estimates map[string]int64
	health    map[string]*ProviderHealth
	trials    map[string]bool
}

func NewHealthRegistry(circuit CircuitConfig, selection SelectionConfig) *HealthRegistry {
	if circuit.FailureThreshold <= 0 {
		circuit.FailureThreshold = DefaultConfig().Circuit.FailureThreshold
	}
	if circuit.Window <= 0 {
		circuit.Window = DefaultConfig().Circuit.Window
	}
	if circuit.Cooldown <= 0 {
		circuit.Cooldown = DefaultConfig().Circuit.Cooldown
	}
	if selection.SuccessWeight == 0 {
		selection.SuccessWeight = DefaultConfig().Selection.SuccessWeight
	}
	if selection.MaxAcquireAttempts <= 0 {
		selection.MaxAcquireAttempts = DefaultConfig().Selection.MaxAcquireAttempts
	}
	return &HealthRegistry{
		circuit:   circuit,
		selection: selection,
		now: func() time.Time {
			return time.Now().UTC()
		},
		adapters:  map[string]ProviderAdapter{},
		estimates: map[string]int64{},
		health:    map[string]*ProviderHealth{},
		trials:    map[string]bool{},
	}
}

// WithHealthStore attaches an optional persistence sink for circuit state.
// The in-memory view stays authoritative; store writes are best effort.
func (r *HealthRegistry) WithHealthStore(store ProviderHealthStore) *HealthRegistry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
	return r
}

func (r *HealthRegistry) WithClock(now func() time.Time) *HealthRegistry {
	if r == nil || now == nil {
		return r
	}
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

func (r *HealthRegistry) Register(adapter ProviderAdapter, costEstimate int64) error {
	if r == nil {
		return fmt.Errorf("core: health registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("core: provider adapter is nil")
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return fmt.Errorf("core: provider adapter id is required")
	}
	if costEstimate < 0 {
		return fmt.Errorf("core: provider %s cost estimate must be >= 0", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	now := r.now()
	r.adapters[id] = adapter
	r.estimates[id] = costEstimate
	r.health[id] = &ProviderHealth{
		ProviderID:   id,
		WindowStart:  now,
		CircuitState: CircuitStateClosed,
		UpdatedAt:    now,
	}
	return nil
}

func (r *HealthRegistry) Adapter(providerID string) (ProviderAdapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	adapter, ok := r.adapters[strings.TrimSpace(providerID)]
	r.mu.RUnlock()
	return adapter, ok
}

func (r *HealthRegistry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Candidates returns providers eligible for the next acquisition attempt,
// best score first. An open circuit past its cooldown contributes a single
// half-open trial candidate; a second concurrent caller skips it.
func (r *HealthRegistry) Candidates() []Candidate {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	maxEstimate := int64(0)
	for _, estimate := range r.estimates {
		if estimate > maxEstimate {
			maxEstimate = estimate
		}
	}

	candidates := make([]Candidate, 0, len(r.adapters))
	for id, adapter := range r.adapters {
		health := r.health[id]
		r.rollWindowLocked(health, now)

		trial := false
		switch health.CircuitState {
		case CircuitStateClosed:
		case CircuitStateOpen:
			if health.OpenedAt == nil || now.Sub(*health.OpenedAt) < r.circuit.Cooldown {
				continue
			}
			if r.trials[id] {
				continue
			}
			_ = health.TransitionTo(CircuitStateHalfOpen, now)
			r.trials[id] = true
			trial = true
		case CircuitStateHalfOpen:
			if r.trials[id] {
				continue
			}
			r.trials[id] = true
			trial = true
		}

		normalizedCost := 0.0
		if maxEstimate > 0 {
			normalizedCost = float64(r.estimates[id]) / float64(maxEstimate)
		}
		score := health.SuccessRate()*r.selection.SuccessWeight -
			normalizedCost*r.selection.CostWeight

		candidates = append(candidates, Candidate{
			ProviderID: id,
			Adapter:    adapter,
			Score:      score,
			Trial:      trial,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ProviderID < candidates[j].ProviderID
		}
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// RecordSuccess clears consecutive failures and closes a half-open circuit
// after a successful trial call.
func (r *HealthRegistry) RecordSuccess(ctx context.Context, providerID string) error {
	if r == nil {
		return fmt.Errorf("core: health registry is nil")
	}
	id := strings.TrimSpace(providerID)
	r.mu.Lock()
	health, ok := r.health[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderHealthNotFound, id)
	}
	now := r.now()
	r.rollWindowLocked(health, now)
	health.Successes++
	health.ConsecutiveFailures = 0
	health.UpdatedAt = now
	if health.CircuitState == CircuitStateHalfOpen {
		_ = health.TransitionTo(CircuitStateClosed, now)
	}
	delete(r.trials, id)
	snapshot := *health
	r.mu.Unlock()

	return r.persist(ctx, snapshot)
}

// RecordFailure counts one failed adapter call. A failed half-open trial
// reopens immediately; a closed circuit opens once consecutive failures reach
// the threshold inside the rolling window.
func (r *HealthRegistry) RecordFailure(ctx context.Context, providerID string) error {
	if r == nil {
		return fmt.Errorf("core: health registry is nil")
	}
	id := strings.TrimSpace(providerID)
	r.mu.Lock()
	health, ok := r.health[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderHealthNotFound, id)
	}
	now := r.now()
	r.rollWindowLocked(health, now)
	health.Failures++
	health.ConsecutiveFailures++
	health.UpdatedAt = now
	switch health.CircuitState {
	case CircuitStateHalfOpen:
		_ = health.TransitionTo(CircuitStateOpen, now)
	case CircuitStateClosed:
		if health.ConsecutiveFailures >= r.circuit.FailureThreshold {
			_ = health.TransitionTo(CircuitStateOpen, now)
		}
	}
	delete(r.trials, id)
	snapshot := *health
	r.mu.Unlock()

	return r.persist(ctx, snapshot)
}

// ReleaseTrial returns an unused half-open probe slot. Callers that receive a
// trial candidate but never invoke its adapter must release it, otherwise the
// single-probe gate would starve future cooldown checks.
func (r *HealthRegistry) ReleaseTrial(providerID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.trials, strings.TrimSpace(providerID))
	r.mu.Unlock()
}

func (r *HealthRegistry) SetBalance(ctx context.Context, providerID string, balance int64) error {
	if r == nil {
		return fmt.Errorf("core: health registry is nil")
	}
	id := strings.TrimSpace(providerID)
	r.mu.Lock()
	health, ok := r.health[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderHealthNotFound, id)
	}
	health.AvailableBalance = balance
	health.UpdatedAt = r.now()
	snapshot := *health
	r.mu.Unlock()

	return r.persist(ctx, snapshot)
}

func (r *HealthRegistry) Snapshot(providerID string) (ProviderHealth, bool) {
	if r == nil {
		return ProviderHealth{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	health, ok := r.health[strings.TrimSpace(providerID)]
	if !ok {
		return ProviderHealth{}, false
	}
	return *health, true
}

func (r *HealthRegistry) Snapshots() []ProviderHealth {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]ProviderHealth, 0, len(r.health))
	for _, health := range r.health {
		out = append(out, *health)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProviderID < out[j].ProviderID
	})
	return out
}

func (r *HealthRegistry) MaxAcquireAttempts() int {
	if r == nil {
		return 0
	}
	return r.selection.MaxAcquireAttempts
}

func (r *HealthRegistry) rollWindowLocked(health *ProviderHealth, now time.Time) {
	if health == nil {
		return
	}
	if now.Sub(health.WindowStart) <= r.circuit.Window {
		return
	}
	health.WindowStart = now
	health.Successes = 0
	health.Failures = 0
	health.ConsecutiveFailures = 0
}

func (r *HealthRegistry) persist(ctx context.Context, health ProviderHealth) error {
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()
	if store == nil {
		return nil
	}
	return store.Upsert(ctx, health)
}
