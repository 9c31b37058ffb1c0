package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service is the verification lifecycle manager: the only component allowed
// to mutate verification state. The polling scheduler and the webhook
// processor both funnel into ApplyCode; concurrent writers are serialized per
// verification by the store's version compare-and-swap.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	store           VerificationStore
	reservations    ReservationStore
	registry        *HealthRegistry
	ledger          CreditLedger
	emitter         Emitter
	rateLimit       RateLimitPolicy
	pollRegistrar   PollRegistrar
	secretProvider  SecretProvider
	now             func() time.Time
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("smsbroker", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("smsbroker"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.store == nil && builder.repositoryFactory != nil {
		if factory, ok := builder.repositoryFactory.(interface {
			VerificationStore() VerificationStore
			ReservationStore() ReservationStore
			ProviderHealthStore() ProviderHealthStore
		}); ok {
			builder.store = factory.VerificationStore()
			if builder.reservationStore == nil {
				builder.reservationStore = factory.ReservationStore()
			}
			if builder.healthStore == nil {
				builder.healthStore = factory.ProviderHealthStore()
			}
		}
	}
	if builder.store == nil {
		builder.store = NewMemoryVerificationStore()
	}
	if builder.reservationStore == nil {
		builder.reservationStore = NewMemoryReservationStore()
	}
	if builder.registry == nil {
		builder.registry = NewHealthRegistry(finalConfig.Circuit, finalConfig.Selection)
	}
	if builder.healthStore != nil {
		builder.registry.WithHealthStore(builder.healthStore)
	}
	if builder.ledger == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: credit ledger is required"))
	}
	if builder.emitter == nil {
		builder.emitter = NopEmitter{}
	}
	if builder.pollRegistrar == nil {
		builder.pollRegistrar = nopPollRegistrar{}
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		store:           builder.store,
		reservations:    builder.reservationStore,
		registry:        builder.registry,
		ledger:          builder.ledger,
		emitter:         builder.emitter,
		rateLimit:       builder.rateLimitPolicy,
		pollRegistrar:   builder.pollRegistrar,
		secretProvider:  builder.secretProvider,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	return mapper(err)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() *HealthRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Store() VerificationStore {
	if s == nil {
		return nil
	}
	return s.store
}

// SetPollRegistrar breaks the construction cycle between the service and the
// scheduler: the scheduler needs the service to apply codes, the service
// needs the scheduler to register poll tasks.
func (s *Service) SetPollRegistrar(registrar PollRegistrar) {
	if s == nil || registrar == nil {
		return
	}
	s.pollRegistrar = registrar
}

// Create runs the acquisition pipeline: balance check, credit reservation,
// ranked failover across providers, then poll registration. A provider
// failure is never surfaced to the caller unless every candidate is
// exhausted.
func (s *Service) Create(ctx context.Context, req CreateVerificationRequest) (VerificationView, error) {
	startedAt := s.clock()
	view, err := s.create(ctx, req)
	s.observeOperation(ctx, startedAt, "verification_create", err, map[string]any{
		"user_id":         req.UserID,
		"service_name":    req.ServiceName,
		"country":         req.Country,
		"verification_id": view.VerificationID,
	})
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	return view, nil
}

func (s *Service) create(ctx context.Context, req CreateVerificationRequest) (VerificationView, error) {
	if err := req.Validate(); err != nil {
		return VerificationView{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid verification request").
			WithCode(http.StatusBadRequest).
			WithTextCode(BrokerErrorBadInput)
	}

	candidates := s.registry.Candidates()
	// Candidates may hold half-open trial slots. Until the slice is handed to
	// acquireWithFailover, every return path must give unused slots back or a
	// recovering provider stays locked out of selection.
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		for _, candidate := range candidates {
			if candidate.Trial {
				s.registry.ReleaseTrial(candidate.ProviderID)
			}
		}
	}()
	if req.MaxPrice > 0 {
		filtered := candidates[:0]
		for _, candidate := range candidates {
			if s.config.ProviderSettings(candidate.ProviderID).CostEstimate <= req.MaxPrice {
				filtered = append(filtered, candidate)
				continue
			}
			if candidate.Trial {
				s.registry.ReleaseTrial(candidate.ProviderID)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return VerificationView{}, errNoProviderAvailable(req.ServiceName, req.Country)
	}

	// Reserve the highest estimate among eligible candidates so a failover
	// to a pricier provider never settles above the hold.
	estimate := int64(0)
	for _, candidate := range candidates {
		if cost := s.config.ProviderSettings(candidate.ProviderID).CostEstimate; cost > estimate {
			estimate = cost
		}
	}

	balance, err := s.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return VerificationView{}, err
	}
	if balance < estimate {
		return VerificationView{}, errInsufficientBalance(req.UserID, balance, estimate)
	}

	now := s.clock()
	verification := &Verification{
		ID:           uuid.NewString(),
		UserID:       strings.TrimSpace(req.UserID),
		ServiceName:  strings.TrimSpace(strings.ToLower(req.ServiceName)),
		Country:      strings.TrimSpace(strings.ToUpper(req.Country)),
		Status:       VerificationStatusCreated,
		CostReserved: estimate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := verification.TransitionTo(VerificationStatusReservingCredit, now); err != nil {
		return VerificationView{}, err
	}
	if err := s.store.Create(ctx, verification); err != nil {
		return VerificationView{}, err
	}

	reservationID, err := s.ledger.Reserve(ctx, verification.UserID, estimate)
	if err != nil {
		// Nothing was held; record the failure and hand back the ledger error.
		s.failVerification(ctx, verification, "credit reservation failed")
		if errors.Is(err, ErrInsufficientFunds) {
			return VerificationView{}, errInsufficientBalance(req.UserID, balance, estimate)
		}
		return VerificationView{}, err
	}
	verification.ReservationID = reservationID
	if err := s.reservations.Create(ctx, &CreditReservation{
		ID:             reservationID,
		VerificationID: verification.ID,
		AmountReserved: estimate,
		State:          ReservationStateReserved,
		CreatedAt:      s.clock(),
		UpdatedAt:      s.clock(),
	}); err != nil {
		s.logError(ctx, "credit reservation mirror write failed", map[string]any{
			"verification_id": verification.ID,
			"reservation_id":  reservationID,
			"error":           err.Error(),
		})
	}

	if err := verification.TransitionTo(VerificationStatusAcquiringNumber, s.clock()); err != nil {
		return VerificationView{}, err
	}
	if err := s.store.Update(ctx, verification); err != nil {
		return VerificationView{}, err
	}

	handedOff = true
	handle, err := s.acquireWithFailover(ctx, verification, req, candidates)
	if err != nil {
		s.releaseReservation(ctx, verification, 0)
		s.failVerification(ctx, verification, "all providers exhausted")
		s.emitter.Emit(ctx, EventVerificationFailed, verification.ID, map[string]any{
			"service_name": verification.ServiceName,
			"country":      verification.Country,
		})
		return VerificationView{}, err
	}

	verification.ProviderID = handle.ProviderID
	verification.ProviderVerificationID = handle.ProviderVerificationID
	verification.PhoneNumber = handle.PhoneNumber
	verification.CostQuoted = handle.Cost
	verification.ExpiresAt = s.clock().Add(s.config.VerificationTTL)
	if err := verification.TransitionTo(VerificationStatusAwaitingSMS, s.clock()); err != nil {
		return VerificationView{}, err
	}
	if err := s.store.Update(ctx, verification); err != nil {
		return VerificationView{}, err
	}

	if err := s.pollRegistrar.Register(PollTask{
		VerificationID: verification.ID,
		ProviderID:     verification.ProviderID,
		Handle:         handle,
		ServiceName:    verification.ServiceName,
		NextPollAt:     s.clock().Add(s.config.Polling.InitialInterval),
	}); err != nil {
		s.logError(ctx, "poll registration failed", map[string]any{
			"verification_id": verification.ID,
			"provider_id":     verification.ProviderID,
			"error":           err.Error(),
		})
	}

	return viewOf(*verification), nil
}

func (s *Service) acquireWithFailover(
	ctx context.Context,
	verification *Verification,
	req CreateVerificationRequest,
	candidates []Candidate,
) (NumberHandle, error) {
	attempts := s.registry.MaxAcquireAttempts()
	if attempts > len(candidates) {
		attempts = len(candidates)
	}
	for _, unused := range candidates[attempts:] {
		if unused.Trial {
			s.registry.ReleaseTrial(unused.ProviderID)
		}
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		candidate := candidates[i]
		verification.AttemptCount++

		if s.rateLimit != nil {
			if err := s.rateLimit.BeforeCall(ctx, RateLimitKey{
				ProviderID: candidate.ProviderID,
				BucketKey:  "acquire",
			}); err != nil {
				if candidate.Trial {
					s.registry.ReleaseTrial(candidate.ProviderID)
				}
				s.logProviderFailure(ctx, candidate.ProviderID, verification, err)
				lastErr = err
				continue
			}
		}

		settings := s.config.ProviderSettings(candidate.ProviderID)
		callCtx, cancel := context.WithTimeout(ctx, settings.CallTimeout)
		handle, err := candidate.Adapter.AcquireNumber(callCtx, AcquireRequest{
			ServiceName: verification.ServiceName,
			Country:     verification.Country,
			MaxPrice:    req.MaxPrice,
			Metadata:    req.Metadata,
		})
		cancel()
		if err != nil {
			providerErr := AsProviderError(candidate.ProviderID, err)
			s.logProviderFailure(ctx, candidate.ProviderID, verification, providerErr)
			if recordErr := s.registry.RecordFailure(ctx, candidate.ProviderID); recordErr != nil {
				s.logError(ctx, "provider health record failed", map[string]any{
					"provider_id": candidate.ProviderID,
					"error":       recordErr.Error(),
				})
			}
			lastErr = providerErr
			continue
		}

		if recordErr := s.registry.RecordSuccess(ctx, candidate.ProviderID); recordErr != nil {
			s.logError(ctx, "provider health record failed", map[string]any{
				"provider_id": candidate.ProviderID,
				"error":       recordErr.Error(),
			})
		}
		for _, remaining := range candidates[i+1 : attempts] {
			if remaining.Trial {
				s.registry.ReleaseTrial(remaining.ProviderID)
			}
		}
		handle.ProviderID = candidate.ProviderID
		return handle, nil
	}

	return NumberHandle{}, errProvidersExhausted(verification, lastErr)
}

func (s *Service) Get(ctx context.Context, verificationID string) (VerificationView, error) {
	if s == nil || s.store == nil {
		return VerificationView{}, fmt.Errorf("core: service is not configured")
	}
	verification, err := s.store.Get(ctx, strings.TrimSpace(verificationID))
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	return viewOf(verification), nil
}

type ApplyCodeInput struct {
	VerificationID         string
	ProviderID             string
	ProviderVerificationID string
	Code                   string
	ProviderMessageID      string
	Source                 string
}

// ApplyCode is the shared AWAITING_SMS -> SMS_RECEIVED -> COMPLETED
// transition invoked by both the polling scheduler and the webhook
// processor. First writer wins; redundant calls are no-ops.
func (s *Service) ApplyCode(ctx context.Context, in ApplyCodeInput) (VerificationView, error) {
	startedAt := s.clock()
	view, err := s.applyCode(ctx, in)
	s.observeOperation(ctx, startedAt, "verification_apply_code", err, map[string]any{
		"verification_id": view.VerificationID,
		"provider_id":     in.ProviderID,
		"source":          in.Source,
	})
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	return view, nil
}

func (s *Service) applyCode(ctx context.Context, in ApplyCodeInput) (VerificationView, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return VerificationView{}, goerrors.New("core: sms code is required", goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(BrokerErrorBadInput)
	}

	verification, err := s.resolve(ctx, in)
	if err != nil {
		return VerificationView{}, err
	}

	switch verification.Status {
	case VerificationStatusCompleted:
		// Another writer already won; redundant delivery is expected.
		return viewOf(verification), nil
	case VerificationStatusSMSReceived:
		// A prior writer recorded the code but its settlement did not finish.
		// Re-entering complete is safe: the ledger settles each reservation
		// exactly once and the terminal transition is status-guarded.
		return s.complete(ctx, verification)
	case VerificationStatusAwaitingSMS:
	default:
		if verification.Status.Terminal() {
			s.logInfo(ctx, "sms code arrived after terminal state", map[string]any{
				"verification_id": verification.ID,
				"status":          string(verification.Status),
				"source":          in.Source,
			})
			return viewOf(verification), nil
		}
		return VerificationView{}, fmt.Errorf(
			"%w: %s -> %s",
			ErrInvalidVerificationStatusTransition, verification.Status, VerificationStatusSMSReceived,
		)
	}

	updated, err := s.transitionWithRetry(ctx, verification.ID, func(v *Verification) (bool, error) {
		switch v.Status {
		case VerificationStatusSMSReceived, VerificationStatusCompleted:
			return false, nil
		case VerificationStatusAwaitingSMS:
		default:
			return false, nil
		}
		v.SMSCode = code
		return true, v.TransitionTo(VerificationStatusSMSReceived, s.clock())
	}, transitionContext{name: "sms_received", source: in.Source})
	if err != nil {
		return VerificationView{}, err
	}
	if updated.Status != VerificationStatusSMSReceived {
		// Lost the race; the committed state stands.
		return viewOf(updated), nil
	}

	s.pollRegistrar.Deregister(updated.ID)
	return s.complete(ctx, updated)
}

func (s *Service) complete(ctx context.Context, verification Verification) (VerificationView, error) {
	settled := verification.CostQuoted
	if settled <= 0 || settled > verification.CostReserved {
		settled = verification.CostReserved
	}

	if err := s.ledger.Commit(ctx, verification.ReservationID, settled); err != nil {
		if !errors.Is(err, ErrInvalidReservationStateTransition) {
			// The row stays SMS_RECEIVED with its code; the next ApplyCode
			// re-enters here and the reservation is still held, so no money
			// moves twice.
			s.logError(ctx, "ledger commit failed", map[string]any{
				"verification_id": verification.ID,
				"reservation_id":  verification.ReservationID,
				"error":           err.Error(),
			})
			return VerificationView{}, err
		}
		// The hold settled on an earlier pass that died before the terminal
		// transition; only the transition is still owed.
	} else {
		s.settleReservation(ctx, verification.ReservationID, ReservationStateCommitted)
	}

	completedNow := false
	updated, err := s.transitionWithRetry(ctx, verification.ID, func(v *Verification) (bool, error) {
		completedNow = false
		if v.Status != VerificationStatusSMSReceived {
			return false, nil
		}
		v.CostSettled = settled
		completedNow = true
		return true, v.TransitionTo(VerificationStatusCompleted, s.clock())
	}, transitionContext{name: "completed"})
	if err != nil {
		return VerificationView{}, err
	}

	if completedNow {
		s.emitter.Emit(ctx, EventVerificationCompleted, updated.ID, map[string]any{
			"sms_code":     updated.SMSCode,
			"cost_settled": updated.CostSettled,
			"provider_id":  updated.ProviderID,
		})
	}
	return viewOf(updated), nil
}

// Cancel is user-initiated. It deterministically loses a race against an
// SMS_RECEIVED transition that has already committed.
func (s *Service) Cancel(ctx context.Context, verificationID string) (VerificationView, error) {
	startedAt := s.clock()
	view, err := s.cancel(ctx, verificationID)
	s.observeOperation(ctx, startedAt, "verification_cancel", err, map[string]any{
		"verification_id": verificationID,
	})
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	return view, nil
}

func (s *Service) cancel(ctx context.Context, verificationID string) (VerificationView, error) {
	verification, err := s.store.Get(ctx, strings.TrimSpace(verificationID))
	if err != nil {
		return VerificationView{}, err
	}

	switch verification.Status {
	case VerificationStatusSMSReceived, VerificationStatusCompleted:
		return VerificationView{}, errAlreadyCompleted(verification.ID)
	case VerificationStatusCancelled:
		return viewOf(verification), nil
	case VerificationStatusTimedOut, VerificationStatusFailed:
		return VerificationView{}, goerrors.New(
			fmt.Sprintf("core: verification %s is already %s", verification.ID, verification.Status),
			goerrors.CategoryConflict,
		).WithCode(http.StatusConflict).WithTextCode(BrokerErrorConflict)
	}

	updated, err := s.transitionWithRetry(ctx, verification.ID, func(v *Verification) (bool, error) {
		switch v.Status {
		case VerificationStatusSMSReceived, VerificationStatusCompleted:
			return false, errAlreadyCompleted(v.ID)
		case VerificationStatusCancelled:
			return false, nil
		}
		return true, v.TransitionTo(VerificationStatusCancelled, s.clock())
	}, transitionContext{name: "cancelled"})
	if err != nil {
		return VerificationView{}, err
	}
	if updated.Status != VerificationStatusCancelled {
		return viewOf(updated), nil
	}

	fee := s.config.ProviderSettings(updated.ProviderID).CancellationFee
	s.releaseReservation(ctx, &updated, fee)
	s.cancelAtProvider(ctx, updated)
	s.pollRegistrar.Deregister(updated.ID)
	s.emitter.Emit(ctx, EventVerificationCancelled, updated.ID, map[string]any{
		"refunded": updated.CostReserved - fee,
	})
	return viewOf(updated), nil
}

// MarkTimedOut is invoked by the timeout sweeper for rows past expires_at
// still awaiting SMS.
func (s *Service) MarkTimedOut(ctx context.Context, verificationID string) (VerificationView, error) {
	verification, err := s.store.Get(ctx, strings.TrimSpace(verificationID))
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	if verification.Status != VerificationStatusAwaitingSMS {
		return viewOf(verification), nil
	}

	updated, err := s.transitionWithRetry(ctx, verification.ID, func(v *Verification) (bool, error) {
		if v.Status != VerificationStatusAwaitingSMS {
			return false, nil
		}
		return true, v.TransitionTo(VerificationStatusTimedOut, s.clock())
	}, transitionContext{name: "timed_out"})
	if err != nil {
		return VerificationView{}, s.mapError(err)
	}
	if updated.Status != VerificationStatusTimedOut {
		return viewOf(updated), nil
	}

	s.releaseReservation(ctx, &updated, s.config.NoDeliveryFee)
	s.cancelAtProvider(ctx, updated)
	s.pollRegistrar.Deregister(updated.ID)
	s.emitter.Emit(ctx, EventVerificationTimedOut, updated.ID, map[string]any{
		"refunded": updated.CostReserved - s.config.NoDeliveryFee,
	})
	return viewOf(updated), nil
}

type transitionContext struct {
	name   string
	source string
}

// transitionWithRetry serializes a transition against concurrent writers via
// the store's version compare-and-swap. A stale version is retried once
// against a fresh read; a second conflict indicates a genuine bug and is
// logged with full context before surfacing as an internal conflict.
func (s *Service) transitionWithRetry(
	ctx context.Context,
	verificationID string,
	mutate func(*Verification) (bool, error),
	tc transitionContext,
) (Verification, error) {
	for attempt := 0; attempt < 2; attempt++ {
		verification, err := s.store.Get(ctx, verificationID)
		if err != nil {
			return Verification{}, err
		}
		apply, err := mutate(&verification)
		if err != nil {
			return Verification{}, err
		}
		if !apply {
			return verification, nil
		}
		if err := s.store.Update(ctx, &verification); err != nil {
			if errors.Is(err, ErrVersionConflict) && attempt == 0 {
				continue
			}
			if errors.Is(err, ErrVersionConflict) {
				s.logError(ctx, "transition lost optimistic race twice", map[string]any{
					"verification_id": verificationID,
					"transition":      tc.name,
					"source":          tc.source,
					"status":          string(verification.Status),
					"version":         verification.Version,
					"at":              s.clock().Format(time.RFC3339Nano),
				})
				return Verification{}, goerrors.Wrap(err, goerrors.CategoryInternal,
					fmt.Sprintf("core: transition %s conflicted twice for %s", tc.name, verificationID)).
					WithTextCode(BrokerErrorConflict)
			}
			return Verification{}, err
		}
		return verification, nil
	}
	return Verification{}, goerrors.New("core: transition retry loop exhausted", goerrors.CategoryInternal).
		WithTextCode(BrokerErrorInternal)
}

func (s *Service) resolve(ctx context.Context, in ApplyCodeInput) (Verification, error) {
	if id := strings.TrimSpace(in.VerificationID); id != "" {
		return s.store.Get(ctx, id)
	}
	return s.store.GetByProviderRef(
		ctx,
		strings.TrimSpace(in.ProviderID),
		strings.TrimSpace(in.ProviderVerificationID),
	)
}

func (s *Service) failVerification(ctx context.Context, verification *Verification, reason string) {
	if err := verification.TransitionTo(VerificationStatusFailed, s.clock()); err != nil {
		s.logError(ctx, "failure transition rejected", map[string]any{
			"verification_id": verification.ID,
			"reason":          reason,
			"error":           err.Error(),
		})
		return
	}
	if err := s.store.Update(ctx, verification); err != nil {
		s.logError(ctx, "failure transition persist failed", map[string]any{
			"verification_id": verification.ID,
			"reason":          reason,
			"error":           err.Error(),
		})
	}
}

// releaseReservation refunds the hold, minus an optional fee which is
// committed instead. Exactly one of commit/release runs per reservation.
func (s *Service) releaseReservation(ctx context.Context, verification *Verification, fee int64) {
	reservationID := strings.TrimSpace(verification.ReservationID)
	if reservationID == "" {
		return
	}
	if fee > verification.CostReserved {
		fee = verification.CostReserved
	}
	var err error
	if fee > 0 {
		err = s.ledger.Commit(ctx, reservationID, fee)
		verification.CostSettled = fee
		s.settleReservation(ctx, reservationID, ReservationStateCommitted)
	} else {
		err = s.ledger.Release(ctx, reservationID)
		s.settleReservation(ctx, reservationID, ReservationStateReleased)
	}
	if err != nil {
		s.logError(ctx, "reservation settlement failed", map[string]any{
			"verification_id": verification.ID,
			"reservation_id":  reservationID,
			"fee":             fee,
			"error":           err.Error(),
		})
		return
	}
	if verification.CostSettled > 0 {
		if updateErr := s.store.Update(ctx, verification); updateErr != nil &&
			!errors.Is(updateErr, ErrVersionConflict) {
			s.logError(ctx, "settled cost persist failed", map[string]any{
				"verification_id": verification.ID,
				"error":           updateErr.Error(),
			})
		}
	}
}

func (s *Service) settleReservation(ctx context.Context, reservationID string, state ReservationState) {
	reservation, err := s.reservations.Get(ctx, reservationID)
	if err != nil {
		if !errors.Is(err, ErrReservationNotFound) {
			s.logError(ctx, "reservation read failed", map[string]any{
				"reservation_id": reservationID,
				"error":          err.Error(),
			})
		}
		return
	}
	if err := reservation.TransitionTo(state, s.clock()); err != nil {
		s.logError(ctx, "reservation transition rejected", map[string]any{
			"reservation_id": reservationID,
			"state":          string(state),
			"error":          err.Error(),
		})
		return
	}
	if err := s.reservations.Update(ctx, &reservation); err != nil {
		s.logError(ctx, "reservation persist failed", map[string]any{
			"reservation_id": reservationID,
			"error":          err.Error(),
		})
	}
}

func (s *Service) cancelAtProvider(ctx context.Context, verification Verification) {
	adapter, ok := s.registry.Adapter(verification.ProviderID)
	if !ok {
		return
	}
	settings := s.config.ProviderSettings(verification.ProviderID)
	callCtx, cancel := context.WithTimeout(ctx, settings.CallTimeout)
	defer cancel()
	if _, err := adapter.Cancel(callCtx, NumberHandle{
		ProviderID:             verification.ProviderID,
		ProviderVerificationID: verification.ProviderVerificationID,
		PhoneNumber:            verification.PhoneNumber,
	}); err != nil {
		s.logInfo(ctx, "provider cancel failed", map[string]any{
			"verification_id": verification.ID,
			"provider_id":     verification.ProviderID,
			"error":           err.Error(),
		})
	}
}

func (s *Service) logProviderFailure(ctx context.Context, providerID string, verification *Verification, err error) {
	s.logError(ctx, "provider call failed", map[string]any{
		"provider_id":     providerID,
		"verification_id": verification.ID,
		"attempt_count":   verification.AttemptCount,
		"error":           err.Error(),
	})
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	return s.errorMapper(err)
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func errInsufficientBalance(userID string, balance, required int64) error {
	return goerrors.New(
		fmt.Sprintf("core: insufficient balance for user %s: have %d, need %d", userID, balance, required),
		goerrors.CategoryOperation,
	).
		WithCode(http.StatusPaymentRequired).
		WithTextCode(BrokerErrorInsufficientBalance).
		WithMetadata(map[string]any{"balance": balance, "required": required})
}

func errNoProviderAvailable(serviceName, country string) error {
	return goerrors.New(
		fmt.Sprintf("core: no provider available for %s/%s", serviceName, country),
		goerrors.CategoryOperation,
	).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(BrokerErrorNoProviderAvailable)
}

func errProvidersExhausted(verification *Verification, cause error) error {
	message := fmt.Sprintf(
		"core: no provider available for %s/%s after %d attempts",
		verification.ServiceName, verification.Country, verification.AttemptCount,
	)
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryOperation).
			WithCode(http.StatusServiceUnavailable).
			WithTextCode(BrokerErrorNoProviderAvailable)
	}
	return goerrors.Wrap(cause, goerrors.CategoryOperation, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(BrokerErrorNoProviderAvailable)
}

func errAlreadyCompleted(verificationID string) error {
	return goerrors.New(
		fmt.Sprintf("core: verification %s already completed", verificationID),
		goerrors.CategoryConflict,
	).
		WithCode(http.StatusConflict).
		WithTextCode(BrokerErrorAlreadyCompleted)
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, string, map[string]any) {}

type nopPollRegistrar struct{}

func (nopPollRegistrar) Register(PollTask) error { return nil }

func (nopPollRegistrar) Deregister(string) {}

var (
	_ Emitter       = NopEmitter{}
	_ PollRegistrar = nopPollRegistrar{}
)
