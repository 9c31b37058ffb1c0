package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-smsbroker/core"
)

type MutatingService interface {
	Create(ctx context.Context, req core.CreateVerificationRequest) (core.VerificationView, error)
	ApplyCode(ctx context.Context, in core.ApplyCodeInput) (core.VerificationView, error)
	Cancel(ctx context.Context, verificationID string) (core.VerificationView, error)
}

type TimeoutSweepingService interface {
	RunOnce(ctx context.Context) (core.SweepStats, error)
}

type CreateVerificationCommand struct {
	service MutatingService
}

func NewCreateVerificationCommand(service MutatingService) *CreateVerificationCommand {
	return &CreateVerificationCommand{service: service}
}

func (c *CreateVerificationCommand) Execute(ctx context.Context, msg CreateVerificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: verification service is required")
	}
	out, err := c.service.Create(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ApplySMSCodeCommand struct {
	service MutatingService
}

func NewApplySMSCodeCommand(service MutatingService) *ApplySMSCodeCommand {
	return &ApplySMSCodeCommand{service: service}
}

func (c *ApplySMSCodeCommand) Execute(ctx context.Context, msg ApplySMSCodeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: verification service is required")
	}
	out, err := c.service.ApplyCode(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelVerificationCommand struct {
	service MutatingService
}

func NewCancelVerificationCommand(service MutatingService) *CancelVerificationCommand {
	return &CancelVerificationCommand{service: service}
}

func (c *CancelVerificationCommand) Execute(ctx context.Context, msg CancelVerificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: verification service is required")
	}
	out, err := c.service.Cancel(ctx, msg.VerificationID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepTimeoutsCommand struct {
	sweeper TimeoutSweepingService
}

func NewSweepTimeoutsCommand(sweeper TimeoutSweepingService) *SweepTimeoutsCommand {
	return &SweepTimeoutsCommand{sweeper: sweeper}
}

func (c *SweepTimeoutsCommand) Execute(ctx context.Context, _ SweepTimeoutsMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: timeout sweeper is required")
	}
	out, err := c.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
