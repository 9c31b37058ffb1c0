package devkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

const ProviderID = "devkit"

// Adapter is a scripted in-process provider for embedded development and
// tests. Acquisitions hand out sequential numbers; messages are delivered on
// a configurable schedule of poll attempts.
type Adapter struct {
	id string

	mu           sync.Mutex
	nextNumber   int
	cost         int64
	balance      int64
	acquireErr   error
	checkErr     error
	deliverAfter int
	codes        map[string]string
	polls        map[string]int
	cancelled    map[string]bool
}

type Option func(*Adapter)

// WithAcquireFailure makes every acquisition fail with the given error.
func WithAcquireFailure(err error) Option {
	return func(a *Adapter) {
		a.acquireErr = err
	}
}

// WithCheckFailure makes every poll fail with the given error.
func WithCheckFailure(err error) Option {
	return func(a *Adapter) {
		a.checkErr = err
	}
}

// WithDeliveryAfterPolls controls how many empty polls precede the code.
func WithDeliveryAfterPolls(polls int) Option {
	return func(a *Adapter) {
		a.deliverAfter = polls
	}
}

func WithCost(cost int64) Option {
	return func(a *Adapter) {
		a.cost = cost
	}
}

func WithBalance(balance int64) Option {
	return func(a *Adapter) {
		a.balance = balance
	}
}

func WithProviderID(id string) Option {
	return func(a *Adapter) {
		a.id = strings.TrimSpace(id)
	}
}

func NewAdapter(options ...Option) *Adapter {
	adapter := &Adapter{
		id:           ProviderID,
		cost:         100,
		balance:      100_000,
		deliverAfter: 1,
		codes:        map[string]string{},
		polls:        map[string]int{},
		cancelled:    map[string]bool{},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(adapter)
	}
	return adapter
}

func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) AcquireNumber(_ context.Context, req core.AcquireRequest) (core.NumberHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.acquireErr != nil {
		return core.NumberHandle{}, core.AsProviderError(a.id, a.acquireErr)
	}
	a.nextNumber++
	ref := "devkit_" + strconv.Itoa(a.nextNumber)
	a.codes[ref] = fmt.Sprintf("%06d", 100000+a.nextNumber)
	return core.NumberHandle{
		ProviderID:             a.id,
		ProviderVerificationID: ref,
		PhoneNumber:            fmt.Sprintf("+1555%07d", a.nextNumber),
		Cost:                   a.cost,
		Metadata: map[string]any{
			"service": req.ServiceName,
			"country": req.Country,
		},
	}, nil
}

func (a *Adapter) CheckMessages(_ context.Context, handle core.NumberHandle) ([]core.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkErr != nil {
		return nil, core.AsProviderError(a.id, a.checkErr)
	}
	ref := strings.TrimSpace(handle.ProviderVerificationID)
	if a.cancelled[ref] {
		return nil, nil
	}
	code, ok := a.codes[ref]
	if !ok {
		return nil, core.NewProviderError(a.id, core.ProviderErrorUnknown,
			fmt.Sprintf("unknown number %q", ref), nil)
	}
	a.polls[ref]++
	if a.polls[ref] <= a.deliverAfter {
		return nil, nil
	}
	return []core.InboundMessage{{
		ProviderMessageID: ref + ":msg",
		Status:            core.MessageStatusReceived,
		Text:              "Your verification code is " + code,
		ReceivedAt:        time.Now().UTC(),
	}}, nil
}

func (a *Adapter) Cancel(_ context.Context, handle core.NumberHandle) (core.CancelResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ref := strings.TrimSpace(handle.ProviderVerificationID)
	if _, ok := a.codes[ref]; !ok {
		return core.CancelResult{}, core.NewProviderError(a.id, core.ProviderErrorUnknown,
			fmt.Sprintf("unknown number %q", ref), nil)
	}
	delivered := a.polls[ref] > a.deliverAfter
	a.cancelled[ref] = true
	return core.CancelResult{RefundEligible: !delivered}, nil
}

func (a *Adapter) Balance(context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

// Code exposes the scripted code for a rented number so tests can assert the
// full pipeline end to end.
func (a *Adapter) Code(providerVerificationID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	code, ok := a.codes[strings.TrimSpace(providerVerificationID)]
	return code, ok
}

var _ core.ProviderAdapter = (*Adapter)(nil)
