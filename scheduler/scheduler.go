package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-smsbroker/core"
)

// CodeApplier is the lifecycle surface the scheduler drives. *core.Service
// satisfies it.
type CodeApplier interface {
	ApplyCode(ctx context.Context, in core.ApplyCodeInput) (core.VerificationView, error)
}

// AdapterSource resolves adapters and records call outcomes for circuit
// accounting. *core.HealthRegistry satisfies it.
type AdapterSource interface {
	Adapter(providerID string) (core.ProviderAdapter, bool)
	RecordSuccess(ctx context.Context, providerID string) error
	RecordFailure(ctx context.Context, providerID string) error
}

type entry struct {
	task     core.PollTask
	interval time.Duration
	nextAt   time.Time
	attempts int
}

// Scheduler polls providers for active verifications with a bounded worker
// pool. Each task backs off geometrically between empty polls; a pending
// signal from the vendor resets the backoff; a received message is handed to
// the lifecycle manager, whose transition is idempotent against webhook
// deliveries of the same code.
type Scheduler struct {
	applier   CodeApplier
	adapters  AdapterSource
	extractor *core.CodeExtractor
	rateLimit core.RateLimitPolicy
	config    core.PollingConfig
	logger    core.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	started bool

	wake chan struct{}
	quit chan struct{}
	work chan core.PollTask
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithRateLimitPolicy(policy core.RateLimitPolicy) Option {
	return func(s *Scheduler) {
		s.rateLimit = policy
	}
}

func WithExtractor(extractor *core.CodeExtractor) Option {
	return func(s *Scheduler) {
		s.extractor = extractor
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(applier CodeApplier, adapters AdapterSource, config core.PollingConfig, options ...Option) (*Scheduler, error) {
	if applier == nil {
		return nil, fmt.Errorf("scheduler: code applier is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("scheduler: adapter source is required")
	}
	defaults := core.DefaultConfig().Polling
	if config.InitialInterval <= 0 {
		config.InitialInterval = defaults.InitialInterval
	}
	if config.Multiplier < 1 {
		config.Multiplier = defaults.Multiplier
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = defaults.MaxInterval
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	s := &Scheduler{
		applier:   applier,
		adapters:  adapters,
		extractor: core.NewCodeExtractor(),
		config:    config,
		logger:    glog.Ensure(nil),
		now:       func() time.Time { return time.Now().UTC() },
		entries:   map[string]*entry{},
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		work:      make(chan core.PollTask),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}
	s.logger = glog.Ensure(s.logger)
	return s, nil
}

// Register enqueues one verification for polling. Safe before and after
// Start; duplicate registrations refresh the task in place.
func (s *Scheduler) Register(task core.PollTask) error {
	if s == nil {
		return fmt.Errorf("scheduler: not configured")
	}
	id := strings.TrimSpace(task.VerificationID)
	if id == "" {
		return fmt.Errorf("scheduler: verification id is required")
	}
	nextAt := task.NextPollAt
	if nextAt.IsZero() {
		nextAt = s.now().Add(s.config.InitialInterval)
	}
	s.mu.Lock()
	s.entries[id] = &entry{
		task:     task,
		interval: s.config.InitialInterval,
		nextAt:   nextAt,
	}
	s.mu.Unlock()
	s.nudge()
	return nil
}

func (s *Scheduler) Deregister(verificationID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(verificationID))
	s.mu.Unlock()
	s.nudge()
}

// Reload rebuilds the task queue from rows still awaiting SMS, typically at
// process start after a restart dropped the in-memory queue.
func (s *Scheduler) Reload(ctx context.Context, store core.VerificationStore) error {
	if s == nil {
		return fmt.Errorf("scheduler: not configured")
	}
	if store == nil {
		return fmt.Errorf("scheduler: verification store is required")
	}
	rows, err := store.ListByStatus(ctx, core.VerificationStatusAwaitingSMS)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.Register(core.PollTask{
			VerificationID: row.ID,
			ProviderID:     row.ProviderID,
			ServiceName:    row.ServiceName,
			Handle: core.NumberHandle{
				ProviderID:             row.ProviderID,
				ProviderVerificationID: row.ProviderVerificationID,
				PhoneNumber:            row.PhoneNumber,
			},
			NextPollAt: s.now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the dispatcher and worker pool. It returns immediately;
// Stop drains in-flight polls.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("scheduler: not configured")
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.dispatch(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.work)
	timer := time.NewTimer(s.config.InitialInterval)
	defer timer.Stop()

	for {
		task, due, wait := s.nextDue()
		if due {
			select {
			case s.work <- task:
				continue
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextDue pops the earliest due task, or reports how long to sleep. Popped
// tasks are rescheduled optimistically; a completed verification is
// deregistered by the lifecycle manager after the transition commits.
func (s *Scheduler) nextDue() (core.PollTask, bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var earliest *entry
	for _, e := range s.entries {
		if earliest == nil || e.nextAt.Before(earliest.nextAt) {
			earliest = e
		}
	}
	if earliest == nil {
		return core.PollTask{}, false, s.config.MaxInterval
	}
	if earliest.nextAt.After(now) {
		return core.PollTask{}, false, earliest.nextAt.Sub(now)
	}

	earliest.interval = s.grow(earliest.interval)
	earliest.nextAt = now.Add(earliest.interval)
	return earliest.task, true, 0
}

func (s *Scheduler) grow(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * s.config.Multiplier)
	if next > s.config.MaxInterval {
		return s.config.MaxInterval
	}
	if next < s.config.InitialInterval {
		return s.config.InitialInterval
	}
	return next
}

// recordPollFailure bumps the failure streak for a still-registered task and
// returns the new count. The task keeps its slot; the sweep deadline, not a
// poll error budget, decides when a verification times out.
func (s *Scheduler) recordPollFailure(verificationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[verificationID]; ok {
		e.attempts++
		return e.attempts
	}
	return 0
}

func (s *Scheduler) clearPollFailures(verificationID string) {
	s.mu.Lock()
	if e, ok := s.entries[verificationID]; ok {
		e.attempts = 0
	}
	s.mu.Unlock()
}

// PollAttempts reports the consecutive failed polls for a registered
// verification. Zero for unknown ids and after any successful poll.
func (s *Scheduler) PollAttempts(verificationID string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[strings.TrimSpace(verificationID)]; ok {
		return e.attempts
	}
	return 0
}

func (s *Scheduler) resetBackoff(verificationID string) {
	s.mu.Lock()
	if e, ok := s.entries[verificationID]; ok {
		e.interval = s.config.InitialInterval
		e.nextAt = s.now().Add(e.interval)
	}
	s.mu.Unlock()
	s.nudge()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case task, ok := <-s.work:
			if !ok {
				return
			}
			s.poll(ctx, task)
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Poll runs one synchronous poll cycle for a task. Exported for embedded use
// and tests; the worker pool calls the same path.
func (s *Scheduler) Poll(ctx context.Context, task core.PollTask) {
	s.poll(ctx, task)
}

func (s *Scheduler) poll(ctx context.Context, task core.PollTask) {
	adapter, ok := s.adapters.Adapter(task.ProviderID)
	if !ok {
		s.logger.Error("poll skipped: unknown provider",
			"provider_id", task.ProviderID,
			"verification_id", task.VerificationID,
		)
		s.Deregister(task.VerificationID)
		return
	}

	if s.rateLimit != nil {
		if err := s.rateLimit.BeforeCall(ctx, core.RateLimitKey{
			ProviderID: task.ProviderID,
			BucketKey:  "poll",
		}); err != nil {
			// Quota pressure, not a provider fault; the task keeps its slot
			// and retries on the next tick.
			s.logger.Info("poll deferred by rate limit",
				"provider_id", task.ProviderID,
				"verification_id", task.VerificationID,
				"error", err.Error(),
			)
			return
		}
	}

	messages, err := adapter.CheckMessages(ctx, task.Handle)
	if err != nil {
		if recordErr := s.adapters.RecordFailure(ctx, task.ProviderID); recordErr != nil {
			s.logger.Error("poll health record failed",
				"provider_id", task.ProviderID,
				"error", recordErr.Error(),
			)
		}
		attempts := s.recordPollFailure(task.VerificationID)
		s.logger.Error("poll failed",
			"provider_id", task.ProviderID,
			"verification_id", task.VerificationID,
			"attempts", attempts,
			"error", err.Error(),
		)
		return
	}
	s.clearPollFailures(task.VerificationID)
	if recordErr := s.adapters.RecordSuccess(ctx, task.ProviderID); recordErr != nil {
		s.logger.Error("poll health record failed",
			"provider_id", task.ProviderID,
			"error", recordErr.Error(),
		)
	}

	for _, message := range messages {
		switch message.Status {
		case core.MessageStatusPending:
			s.resetBackoff(task.VerificationID)
		case core.MessageStatusReceived:
			code, found := s.extractor.Extract(task.ServiceName, message.Text)
			if !found {
				code = strings.TrimSpace(message.Text)
			}
			if code == "" {
				continue
			}
			if _, err := s.applier.ApplyCode(ctx, core.ApplyCodeInput{
				VerificationID:         task.VerificationID,
				ProviderID:             task.ProviderID,
				ProviderVerificationID: task.Handle.ProviderVerificationID,
				Code:                   code,
				ProviderMessageID:      message.ProviderMessageID,
				Source:                 "poll",
			}); err != nil {
				s.logger.Error("apply code from poll failed",
					"verification_id", task.VerificationID,
					"provider_id", task.ProviderID,
					"error", err.Error(),
				)
				continue
			}
			s.Deregister(task.VerificationID)
			return
		}
	}
}

var _ core.PollRegistrar = (*Scheduler)(nil)
