package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryVerificationStore is the embedded-mode store. It enforces the same
// version compare-and-swap contract as the SQL store so lifecycle code and
// tests exercise identical concurrency semantics.
type MemoryVerificationStore struct {
	mu    sync.RWMutex
	rows  map[string]Verification
	byRef map[string]string
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{
		rows:  map[string]Verification{},
		byRef: map[string]string{},
	}
}

func refKey(providerID, providerVerificationID string) string {
	return strings.TrimSpace(providerID) + "\x00" + strings.TrimSpace(providerVerificationID)
}

func (s *MemoryVerificationStore) Create(ctx context.Context, v *Verification) error {
	if s == nil {
		return fmt.Errorf("core: verification store is nil")
	}
	if v == nil {
		return fmt.Errorf("core: verification is nil")
	}
	if strings.TrimSpace(v.ID) == "" {
		v.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[v.ID]; exists {
		return fmt.Errorf("core: verification already exists: %s", v.ID)
	}
	v.Version = 1
	s.rows[v.ID] = *v
	if v.ProviderID != "" && v.ProviderVerificationID != "" {
		s.byRef[refKey(v.ProviderID, v.ProviderVerificationID)] = v.ID
	}
	return nil
}

func (s *MemoryVerificationStore) Get(ctx context.Context, id string) (Verification, error) {
	if s == nil {
		return Verification{}, fmt.Errorf("core: verification store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[strings.TrimSpace(id)]
	if !ok {
		return Verification{}, fmt.Errorf("%w: %s", ErrVerificationNotFound, id)
	}
	return row, nil
}

func (s *MemoryVerificationStore) GetByProviderRef(
	ctx context.Context,
	providerID string,
	providerVerificationID string,
) (Verification, error) {
	if s == nil {
		return Verification{}, fmt.Errorf("core: verification store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[refKey(providerID, providerVerificationID)]
	if !ok {
		return Verification{}, fmt.Errorf(
			"%w: provider %s ref %s",
			ErrVerificationNotFound, providerID, providerVerificationID,
		)
	}
	return s.rows[id], nil
}

// Update applies a compare-and-swap on Version: the caller's copy must match
// the stored row, and the stored version advances by one on success.
func (s *MemoryVerificationStore) Update(ctx context.Context, v *Verification) error {
	if s == nil {
		return fmt.Errorf("core: verification store is nil")
	}
	if v == nil {
		return fmt.Errorf("core: verification is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[v.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVerificationNotFound, v.ID)
	}
	if current.Version != v.Version {
		return fmt.Errorf(
			"%w: %s has version %d, caller has %d",
			ErrVersionConflict, v.ID, current.Version, v.Version,
		)
	}
	v.Version++
	s.rows[v.ID] = *v
	if v.ProviderID != "" && v.ProviderVerificationID != "" {
		s.byRef[refKey(v.ProviderID, v.ProviderVerificationID)] = v.ID
	}
	return nil
}

func (s *MemoryVerificationStore) ListByStatus(ctx context.Context, status VerificationStatus) ([]Verification, error) {
	if s == nil {
		return nil, fmt.Errorf("core: verification store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Verification, 0)
	for _, row := range s.rows {
		if row.Status == status {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListExpired returns rows still awaiting SMS whose deadline has passed.
func (s *MemoryVerificationStore) ListExpired(ctx context.Context, before time.Time) ([]Verification, error) {
	if s == nil {
		return nil, fmt.Errorf("core: verification store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Verification, 0)
	for _, row := range s.rows {
		if row.Status != VerificationStatusAwaitingSMS {
			continue
		}
		if !row.ExpiresAt.IsZero() && !row.ExpiresAt.After(before) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

type MemoryReservationStore struct {
	mu   sync.RWMutex
	rows map[string]CreditReservation
}

func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{rows: map[string]CreditReservation{}}
}

func (s *MemoryReservationStore) Create(ctx context.Context, r *CreditReservation) error {
	if s == nil {
		return fmt.Errorf("core: reservation store is nil")
	}
	if r == nil {
		return fmt.Errorf("core: reservation is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[r.ID]; exists {
		return fmt.Errorf("core: reservation already exists: %s", r.ID)
	}
	s.rows[r.ID] = *r
	return nil
}

func (s *MemoryReservationStore) Get(ctx context.Context, id string) (CreditReservation, error) {
	if s == nil {
		return CreditReservation{}, fmt.Errorf("core: reservation store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[strings.TrimSpace(id)]
	if !ok {
		return CreditReservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	return row, nil
}

func (s *MemoryReservationStore) Update(ctx context.Context, r *CreditReservation) error {
	if s == nil {
		return fmt.Errorf("core: reservation store is nil")
	}
	if r == nil {
		return fmt.Errorf("core: reservation is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, r.ID)
	}
	s.rows[r.ID] = *r
	return nil
}

type MemoryProviderHealthStore struct {
	mu   sync.RWMutex
	rows map[string]ProviderHealth
}

func NewMemoryProviderHealthStore() *MemoryProviderHealthStore {
	return &MemoryProviderHealthStore{rows: map[string]ProviderHealth{}}
}

func (s *MemoryProviderHealthStore) Get(ctx context.Context, providerID string) (ProviderHealth, error) {
	if s == nil {
		return ProviderHealth{}, fmt.Errorf("core: provider health store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[strings.TrimSpace(providerID)]
	if !ok {
		return ProviderHealth{}, fmt.Errorf("%w: %s", ErrProviderHealthNotFound, providerID)
	}
	return row, nil
}

func (s *MemoryProviderHealthStore) Upsert(ctx context.Context, health ProviderHealth) error {
	if s == nil {
		return fmt.Errorf("core: provider health store is nil")
	}
	id := strings.TrimSpace(health.ProviderID)
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	s.mu.Lock()
	s.rows[id] = health
	s.mu.Unlock()
	return nil
}

func (s *MemoryProviderHealthStore) List(ctx context.Context) ([]ProviderHealth, error) {
	if s == nil {
		return nil, fmt.Errorf("core: provider health store is nil")
	}
	s.mu.RLock()
	out := make([]ProviderHealth, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

type memoryReservation struct {
	UserID string
	Amount int64
	State  ReservationState
}

// MemoryLedger is an embedded credit ledger honoring the reserve/commit/
// release contract: reserves deduct from the spendable balance immediately,
// commit keeps up to the held amount and refunds the remainder, release
// refunds the full hold. Each reservation settles exactly once.
type MemoryLedger struct {
	mu           sync.Mutex
	balances     map[string]int64
	reservations map[string]*memoryReservation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:     map[string]int64{},
		reservations: map[string]*memoryReservation{},
	}
}

func (l *MemoryLedger) Credit(userID string, amount int64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.balances[strings.TrimSpace(userID)] += amount
	l.mu.Unlock()
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if l == nil {
		return 0, fmt.Errorf("core: ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[strings.TrimSpace(userID)], nil
}

func (l *MemoryLedger) Reserve(ctx context.Context, userID string, amount int64) (string, error) {
	if l == nil {
		return "", fmt.Errorf("core: ledger is nil")
	}
	if amount < 0 {
		return "", fmt.Errorf("core: reserve amount must be >= 0")
	}
	id := strings.TrimSpace(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[id] < amount {
		return "", fmt.Errorf("%w: user %s", ErrInsufficientFunds, id)
	}
	l.balances[id] -= amount
	reservationID := uuid.NewString()
	l.reservations[reservationID] = &memoryReservation{
		UserID: id,
		Amount: amount,
		State:  ReservationStateReserved,
	}
	return reservationID, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, reservationID string, finalAmount int64) error {
	if l == nil {
		return fmt.Errorf("core: ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	reservation, ok := l.reservations[strings.TrimSpace(reservationID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	if reservation.State != ReservationStateReserved {
		return fmt.Errorf(
			"%w: reservation %s is %s",
			ErrInvalidReservationStateTransition, reservationID, reservation.State,
		)
	}
	if finalAmount < 0 || finalAmount > reservation.Amount {
		return fmt.Errorf(
			"core: commit amount %d outside reservation hold %d",
			finalAmount, reservation.Amount,
		)
	}
	reservation.State = ReservationStateCommitted
	l.balances[reservation.UserID] += reservation.Amount - finalAmount
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	if l == nil {
		return fmt.Errorf("core: ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	reservation, ok := l.reservations[strings.TrimSpace(reservationID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	if reservation.State != ReservationStateReserved {
		return fmt.Errorf(
			"%w: reservation %s is %s",
			ErrInvalidReservationStateTransition, reservationID, reservation.State,
		)
	}
	reservation.State = ReservationStateReleased
	l.balances[reservation.UserID] += reservation.Amount
	return nil
}

type EmittedEvent struct {
	Type           string
	VerificationID string
	Payload        map[string]any
}

// CollectingEmitter records emitted events for inspection in tests and
// embedded setups.
type CollectingEmitter struct {
	mu     sync.Mutex
	events []EmittedEvent
}

func NewCollectingEmitter() *CollectingEmitter {
	return &CollectingEmitter{}
}

func (e *CollectingEmitter) Emit(ctx context.Context, eventType string, verificationID string, payload map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.events = append(e.events, EmittedEvent{
		Type:           eventType,
		VerificationID: verificationID,
		Payload:        cloneFields(payload),
	})
	e.mu.Unlock()
}

func (e *CollectingEmitter) Events() []EmittedEvent {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EmittedEvent, len(e.events))
	copy(out, e.events)
	return out
}

var (
	_ VerificationStore   = (*MemoryVerificationStore)(nil)
	_ ReservationStore    = (*MemoryReservationStore)(nil)
	_ ProviderHealthStore = (*MemoryProviderHealthStore)(nil)
	_ CreditLedger        = (*MemoryLedger)(nil)
	_ Emitter             = (*CollectingEmitter)(nil)
)
