package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[CreateVerificationMessage] = (*CreateVerificationCommand)(nil)
	_ gocmd.Commander[ApplySMSCodeMessage]       = (*ApplySMSCodeCommand)(nil)
	_ gocmd.Commander[CancelVerificationMessage] = (*CancelVerificationCommand)(nil)
	_ gocmd.Commander[SweepTimeoutsMessage]      = (*SweepTimeoutsCommand)(nil)
)
