package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
)

const (
	TypeCreateVerification = "smsbroker.command.verification.create"
	TypeApplySMSCode       = "smsbroker.command.verification.apply_code"
	TypeCancelVerification = "smsbroker.command.verification.cancel"
	TypeSweepTimeouts      = "smsbroker.command.verification.sweep_timeouts"
)

type CreateVerificationMessage struct {
	Request core.CreateVerificationRequest
}

func (CreateVerificationMessage) Type() string { return TypeCreateVerification }

func (m CreateVerificationMessage) Validate() error {
	if err := m.Request.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// ApplySMSCodeMessage carries a code observed by the scheduler or the webhook
// pipeline. Either the verification id or the provider reference pair must
// identify the row.
type ApplySMSCodeMessage struct {
	Input core.ApplyCodeInput
}

func (ApplySMSCodeMessage) Type() string { return TypeApplySMSCode }

func (m ApplySMSCodeMessage) Validate() error {
	hasID := strings.TrimSpace(m.Input.VerificationID) != ""
	hasRef := strings.TrimSpace(m.Input.ProviderID) != "" &&
		strings.TrimSpace(m.Input.ProviderVerificationID) != ""
	if !hasID && !hasRef {
		return fmt.Errorf("command: verification id or provider reference is required")
	}
	if strings.TrimSpace(m.Input.Code) == "" {
		return fmt.Errorf("command: sms code is required")
	}
	return nil
}

type CancelVerificationMessage struct {
	VerificationID string
}

func (CancelVerificationMessage) Type() string { return TypeCancelVerification }

func (m CancelVerificationMessage) Validate() error {
	if strings.TrimSpace(m.VerificationID) == "" {
		return fmt.Errorf("command: verification id is required")
	}
	return nil
}

type SweepTimeoutsMessage struct{}

func (SweepTimeoutsMessage) Type() string { return TypeSweepTimeouts }

func (SweepTimeoutsMessage) Validate() error { return nil }
