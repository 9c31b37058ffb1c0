package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-smsbroker/core"
)

var (
	_ gocmd.Querier[GetVerificationMessage, core.VerificationView]       = (*GetVerificationQuery)(nil)
	_ gocmd.Querier[ListActiveVerificationsMessage, []core.Verification] = (*ListActiveVerificationsQuery)(nil)
	_ gocmd.Querier[GetProviderHealthMessage, core.ProviderHealth]       = (*GetProviderHealthQuery)(nil)
	_ gocmd.Querier[ListProviderHealthMessage, []core.ProviderHealth]    = (*ListProviderHealthQuery)(nil)
)
