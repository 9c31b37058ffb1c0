package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidVerificationStatusTransition = errors.New("core: invalid verification status transition")
	ErrInvalidReservationStateTransition   = errors.New("core: invalid credit reservation state transition")
	ErrInvalidCircuitStateTransition       = errors.New("core: invalid circuit state transition")
	ErrVerificationNotFound                = errors.New("core: verification not found")
	ErrReservationNotFound                 = errors.New("core: credit reservation not found")
	ErrProviderHealthNotFound              = errors.New("core: provider health not found")
)

type VerificationStatus string

const (
	VerificationStatusCreated         VerificationStatus = "created"
	VerificationStatusReservingCredit VerificationStatus = "reserving_credit"
	VerificationStatusAcquiringNumber VerificationStatus = "acquiring_number"
	VerificationStatusAwaitingSMS     VerificationStatus = "awaiting_sms"
	VerificationStatusSMSReceived     VerificationStatus = "sms_received"
	VerificationStatusCompleted       VerificationStatus = "completed"
	VerificationStatusFailed          VerificationStatus = "failed"
	VerificationStatusTimedOut        VerificationStatus = "timed_out"
	VerificationStatusCancelled       VerificationStatus = "cancelled"
)

func (s VerificationStatus) Terminal() bool {
	switch s {
	case VerificationStatusCompleted,
		VerificationStatusFailed,
		VerificationStatusTimedOut,
		VerificationStatusCancelled:
		return true
	}
	return false
}

// Verification is one phone-number-rental-for-code-retrieval episode. Rows
// are never deleted; terminal rows are retained as audit records.
type Verification struct {
	ID                     string
	UserID                 string
	ProviderID             string
	ProviderVerificationID string
	PhoneNumber            string
	ServiceName            string
	Country                string
	Status                 VerificationStatus
	CostReserved           int64
	CostQuoted             int64
	CostSettled            int64
	SMSCode                string
	ReservationID          string
	AttemptCount           int
	CreatedAt              time.Time
	ExpiresAt              time.Time
	CompletedAt            *time.Time
	UpdatedAt              time.Time
	Version                int
}

// TransitionTo applies a status change in memory. Persistence-level
// serialization (the version compare-and-swap) lives in VerificationStore.
func (v *Verification) TransitionTo(status VerificationStatus, now time.Time) error {
	if v == nil {
		return nil
	}
	if v.Status == status {
		v.UpdatedAt = now
		return nil
	}
	if !verificationTransitionAllowed(v.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidVerificationStatusTransition, v.Status, status)
	}
	v.Status = status
	v.UpdatedAt = now
	if status.Terminal() {
		completed := now
		v.CompletedAt = &completed
	}
	return nil
}

func verificationTransitionAllowed(current, next VerificationStatus) bool {
	if current.Terminal() {
		return false
	}
	if next.Terminal() && next != VerificationStatusCompleted {
		// FAILED/TIMED_OUT/CANCELLED are reachable from any non-terminal state.
		return true
	}
	allowed := map[VerificationStatus]map[VerificationStatus]struct{}{
		VerificationStatusCreated: {
			VerificationStatusReservingCredit: {},
		},
		VerificationStatusReservingCredit: {
			VerificationStatusAcquiringNumber: {},
		},
		VerificationStatusAcquiringNumber: {
			VerificationStatusAwaitingSMS: {},
		},
		VerificationStatusAwaitingSMS: {
			VerificationStatusSMSReceived: {},
		},
		VerificationStatusSMSReceived: {
			VerificationStatusCompleted: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

func (v *Verification) Validate() error {
	if v == nil {
		return fmt.Errorf("core: verification is nil")
	}
	if v.CostSettled > v.CostReserved {
		return fmt.Errorf(
			"core: verification %s settled cost %d exceeds reserved %d",
			v.ID, v.CostSettled, v.CostReserved,
		)
	}
	if v.PhoneNumber != "" && v.Status == VerificationStatusCreated {
		return fmt.Errorf("core: verification %s has a phone number before acquisition", v.ID)
	}
	return nil
}

type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half_open"
)

// ProviderHealth is the per-provider circuit breaker ledger. Counters cover
// the current rolling window; WindowStart marks when it began.
type ProviderHealth struct {
	ProviderID          string
	WindowStart         time.Time
	Successes           int
	Failures            int
	ConsecutiveFailures int
	CircuitState        CircuitState
	OpenedAt            *time.Time
	AvailableBalance    int64
	UpdatedAt           time.Time
}

func (h *ProviderHealth) TransitionTo(state CircuitState, now time.Time) error {
	if h == nil {
		return nil
	}
	if h.CircuitState == state {
		h.UpdatedAt = now
		return nil
	}
	if !circuitTransitionAllowed(h.CircuitState, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCircuitStateTransition, h.CircuitState, state)
	}
	h.CircuitState = state
	h.UpdatedAt = now
	switch state {
	case CircuitStateOpen:
		opened := now
		h.OpenedAt = &opened
	case CircuitStateClosed:
		h.OpenedAt = nil
		h.ConsecutiveFailures = 0
	}
	return nil
}

func circuitTransitionAllowed(current, next CircuitState) bool {
	allowed := map[CircuitState]map[CircuitState]struct{}{
		CircuitStateClosed: {
			CircuitStateOpen: {},
		},
		CircuitStateOpen: {
			CircuitStateHalfOpen: {},
		},
		CircuitStateHalfOpen: {
			CircuitStateClosed: {},
			CircuitStateOpen:   {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// SuccessRate reports successes over total outcomes in the current window.
// An empty window counts as a perfect rate so new providers rank normally.
func (h ProviderHealth) SuccessRate() float64 {
	total := h.Successes + h.Failures
	if total == 0 {
		return 1.0
	}
	return float64(h.Successes) / float64(total)
}

type ReservationState string

const (
	ReservationStateReserved  ReservationState = "reserved"
	ReservationStateCommitted ReservationState = "committed"
	ReservationStateReleased  ReservationState = "released"
)

// CreditReservation mirrors a hold in the external credit ledger. At most one
// of committed/released is ever reached, exactly once.
type CreditReservation struct {
	ID             string
	VerificationID string
	AmountReserved int64
	State          ReservationState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *CreditReservation) TransitionTo(state ReservationState, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.State == state {
		r.UpdatedAt = now
		return nil
	}
	if r.State != ReservationStateReserved {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidReservationStateTransition, r.State, state)
	}
	if state != ReservationStateCommitted && state != ReservationStateReleased {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidReservationStateTransition, r.State, state)
	}
	r.State = state
	r.UpdatedAt = now
	return nil
}

type CreateVerificationRequest struct {
	UserID      string
	ServiceName string
	Country     string
	MaxPrice    int64
	Metadata    map[string]any
}

func (r CreateVerificationRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("core: user id is required")
	}
	if strings.TrimSpace(r.ServiceName) == "" {
		return fmt.Errorf("core: service name is required")
	}
	if strings.TrimSpace(r.Country) == "" {
		return fmt.Errorf("core: country is required")
	}
	if r.MaxPrice < 0 {
		return fmt.Errorf("core: max price must be >= 0")
	}
	return nil
}
