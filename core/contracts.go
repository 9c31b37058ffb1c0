package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type ProviderErrorKind string

const (
	ProviderErrorRateLimited           ProviderErrorKind = "rate_limited"
	ProviderErrorInsufficientInventory ProviderErrorKind = "insufficient_inventory"
	ProviderErrorAuth                  ProviderErrorKind = "auth"
	ProviderErrorUnavailable           ProviderErrorKind = "unavailable"
	ProviderErrorUnknown               ProviderErrorKind = "unknown"
)

// ProviderError is the normalized failure taxonomy every adapter maps its
// vendor responses into, so failover handling is exhaustive rather than
// duck-typed on raw payloads.
type ProviderError struct {
	ProviderID string
	Kind       ProviderErrorKind
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("provider %q %s: %s", e.ProviderID, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether the next ranked candidate should be tried.
// Auth failures are configuration problems, not transient conditions, but
// they still justify moving on to another provider.
func (e *ProviderError) Retryable() bool {
	return e != nil
}

func (e *ProviderError) ToBrokerError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category := goerrors.CategoryExternal
	if e.Kind == ProviderErrorRateLimited {
		category = goerrors.CategoryRateLimit
	}
	return goerrors.Wrap(e, category, e.Error()).
		WithTextCode(BrokerErrorProviderFailed).
		WithMetadata(map[string]any{
			"provider_id": e.ProviderID,
			"kind":        string(e.Kind),
		})
}

func NewProviderError(providerID string, kind ProviderErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{
		ProviderID: strings.TrimSpace(providerID),
		Kind:       kind,
		Message:    strings.TrimSpace(message),
		Cause:      cause,
	}
}

// AsProviderError unwraps err into the adapter taxonomy, defaulting to the
// unknown kind so callers always get a classified failure.
func AsProviderError(providerID string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var typed *ProviderError
	if errors.As(err, &typed) {
		return typed
	}
	return NewProviderError(providerID, ProviderErrorUnknown, err.Error(), err)
}

type AcquireRequest struct {
	ServiceName string
	Country     string
	MaxPrice    int64
	Metadata    map[string]any
}

// NumberHandle identifies one rented number at one vendor for the duration of
// a verification episode.
type NumberHandle struct {
	ProviderID             string
	ProviderVerificationID string
	PhoneNumber            string
	Cost                   int64
	Metadata               map[string]any
}

type MessageStatus string

const (
	// MessageStatusPending is a partial provider signal: no text yet, but the
	// vendor reports delivery is underway. The scheduler resets its backoff.
	MessageStatusPending  MessageStatus = "pending"
	MessageStatusReceived MessageStatus = "received"
)

type InboundMessage struct {
	ProviderMessageID string
	Status            MessageStatus
	Text              string
	ReceivedAt        time.Time
}

type CancelResult struct {
	RefundEligible bool
	Fee            int64
}

// ProviderAdapter normalizes one vendor behind a shared contract. Adapters
// hold no persistent state, bound every call with a per-call timeout, and are
// safe to invoke concurrently from multiple workers. Failures are reported as
// *ProviderError.
type ProviderAdapter interface {
	ID() string
	AcquireNumber(ctx context.Context, req AcquireRequest) (NumberHandle, error)
	CheckMessages(ctx context.Context, handle NumberHandle) ([]InboundMessage, error)
	Cancel(ctx context.Context, handle NumberHandle) (CancelResult, error)
	Balance(ctx context.Context) (int64, error)
}

// WebhookCapableAdapter is implemented by vendors that push delivery
// notifications. Push only reduces latency; polling remains the universal
// fallback for every provider.
type WebhookCapableAdapter interface {
	ProviderAdapter
	WebhookProviderVerificationID(payload map[string]any) (string, bool)
}

var ErrInsufficientFunds = errors.New("core: insufficient funds")

// CreditLedger is the consumed reserve/commit/release contract. The lifecycle
// manager guarantees exactly one of Commit/Release per reservation id, and
// expects a repeat settlement attempt to fail with
// ErrInvalidReservationStateTransition so an interrupted completion can
// resume past the already-settled hold.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Reserve(ctx context.Context, userID string, amount int64) (reservationID string, err error)
	Commit(ctx context.Context, reservationID string, finalAmount int64) error
	Release(ctx context.Context, reservationID string) error
}

const (
	EventVerificationCompleted = "verification.completed"
	EventVerificationTimedOut  = "verification.timed_out"
	EventVerificationCancelled = "verification.cancelled"
	EventVerificationFailed    = "verification.failed"
)

// Emitter is the consumed fire-and-forget event sink. Delivery failures never
// block or roll back a lifecycle transition.
type Emitter interface {
	Emit(ctx context.Context, eventType string, verificationID string, payload map[string]any)
}

var ErrVersionConflict = errors.New("core: verification version conflict")

// VerificationStore persists verifications. Update performs a
// compare-and-swap on Version: it matches the row's stored version, bumps it
// by one, and returns ErrVersionConflict when a concurrent writer won.
type VerificationStore interface {
	Create(ctx context.Context, v *Verification) error
	Get(ctx context.Context, id string) (Verification, error)
	GetByProviderRef(ctx context.Context, providerID string, providerVerificationID string) (Verification, error)
	Update(ctx context.Context, v *Verification) error
	ListByStatus(ctx context.Context, status VerificationStatus) ([]Verification, error)
	ListExpired(ctx context.Context, before time.Time) ([]Verification, error)
}

type ReservationStore interface {
	Create(ctx context.Context, r *CreditReservation) error
	Get(ctx context.Context, id string) (CreditReservation, error)
	Update(ctx context.Context, r *CreditReservation) error
}

type ProviderHealthStore interface {
	Get(ctx context.Context, providerID string) (ProviderHealth, error)
	Upsert(ctx context.Context, health ProviderHealth) error
	List(ctx context.Context) ([]ProviderHealth, error)
}

type RateLimitKey struct {
	ProviderID string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

// RateLimitPolicy gates every worker's provider calls against vendor quotas,
// independently of the circuit breaker.
type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

// PollTask describes one verification the scheduler should poll.
type PollTask struct {
	VerificationID string
	ProviderID     string
	Handle         NumberHandle
	ServiceName    string
	NextPollAt     time.Time
}

// PollRegistrar is the scheduler surface the lifecycle manager depends on.
// Deregistration after a webhook win is a latency optimization only; the
// transition itself is idempotent.
type PollRegistrar interface {
	Register(task PollTask) error
	Deregister(verificationID string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type InboundRequest struct {
	ProviderID string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// VerificationView is the read shape handed to the excluded HTTP/UI layer.
// Internal failures are mapped before they reach it.
type VerificationView struct {
	VerificationID string
	Status         VerificationStatus
	PhoneNumber    string
	SMSCode        string
	CostReserved   int64
	CostSettled    int64
	ExpiresAt      time.Time
}

func viewOf(v Verification) VerificationView {
	return VerificationView{
		VerificationID: v.ID,
		Status:         v.Status,
		PhoneNumber:    v.PhoneNumber,
		SMSCode:        v.SMSCode,
		CostReserved:   v.CostReserved,
		CostSettled:    v.CostSettled,
		ExpiresAt:      v.ExpiresAt,
	}
}
