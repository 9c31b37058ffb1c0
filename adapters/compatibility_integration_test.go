package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-smsbroker/adapters/gocommand"
	"github.com/goliatone/go-smsbroker/adapters/gojob"
	"github.com/goliatone/go-smsbroker/adapters/gologger"
	brokercommand "github.com/goliatone/go-smsbroker/command"
	"github.com/goliatone/go-smsbroker/core"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("smsbroker", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	if err := enqueueAdapter.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          gojob.JobIDTimeoutSweep,
		ScriptPath:     "smsbroker.timeout.sweep",
		Parameters:     map[string]any{"batch_size": 100},
		IdempotencyKey: "idem_1",
		DedupPolicy:    "drop",
	}); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDTimeoutSweep {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("smsbroker.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_VerificationCommandsDispatchThroughWrappers(t *testing.T) {
	svc := &compatMutatingService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	cancelSub, err := gocommand.RegisterAndSubscribe(adapter, brokercommand.NewCancelVerificationCommand(svc))
	if err != nil {
		t.Fatalf("register cancel wrapper: %v", err)
	}
	defer cancelSub.Unsubscribe()

	applySub, err := gocommand.RegisterAndSubscribe(adapter, brokercommand.NewApplySMSCodeCommand(svc))
	if err != nil {
		t.Fatalf("register apply code wrapper: %v", err)
	}
	defer applySub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), brokercommand.ApplySMSCodeMessage{
		Input: core.ApplyCodeInput{
			ProviderID:             "smshub",
			ProviderVerificationID: "act-100",
			Code:                   "482913",
			Source:                 "webhook",
		},
	}); err != nil {
		t.Fatalf("dispatch apply code: %v", err)
	}
	if svc.applyCalls != 1 || svc.lastCode != "482913" {
		t.Fatalf("expected apply code wrapper invocation through dispatch")
	}

	if err := gocommand.Dispatch(context.Background(), brokercommand.CancelVerificationMessage{
		VerificationID: "ver_1",
	}); err != nil {
		t.Fatalf("dispatch cancel: %v", err)
	}
	if svc.cancelCalls != 1 || svc.lastCancelledID != "ver_1" {
		t.Fatalf("expected cancel wrapper invocation through dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "smsbroker.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	e.last = msg
	return queue.EnqueueReceipt{}, nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatMutatingService struct {
	applyCalls      int
	lastCode        string
	cancelCalls     int
	lastCancelledID string
}

func (s *compatMutatingService) Create(context.Context, core.CreateVerificationRequest) (core.VerificationView, error) {
	return core.VerificationView{Status: core.VerificationStatusCreated}, nil
}

func (s *compatMutatingService) ApplyCode(_ context.Context, in core.ApplyCodeInput) (core.VerificationView, error) {
	s.applyCalls++
	s.lastCode = in.Code
	return core.VerificationView{Status: core.VerificationStatusCompleted, SMSCode: in.Code}, nil
}

func (s *compatMutatingService) Cancel(_ context.Context, verificationID string) (core.VerificationView, error) {
	s.cancelCalls++
	s.lastCancelledID = verificationID
	return core.VerificationView{VerificationID: verificationID, Status: core.VerificationStatusCancelled}, nil
}
