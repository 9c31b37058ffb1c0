package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
)

const (
	TypeGetVerification         = "smsbroker.query.verification.get"
	TypeListActiveVerifications = "smsbroker.query.verification.list_active"
	TypeGetProviderHealth       = "smsbroker.query.provider.health"
	TypeListProviderHealth      = "smsbroker.query.provider.health_list"
)

type GetVerificationMessage struct {
	VerificationID string
}

func (GetVerificationMessage) Type() string { return TypeGetVerification }

func (m GetVerificationMessage) Validate() error {
	if strings.TrimSpace(m.VerificationID) == "" {
		return fmt.Errorf("query: verification id is required")
	}
	return nil
}

type ListActiveVerificationsMessage struct {
	Status core.VerificationStatus
}

func (ListActiveVerificationsMessage) Type() string { return TypeListActiveVerifications }

func (m ListActiveVerificationsMessage) Validate() error {
	if strings.TrimSpace(string(m.Status)) == "" {
		return fmt.Errorf("query: verification status is required")
	}
	if m.Status.Terminal() {
		return fmt.Errorf("query: status %q is terminal, not active", m.Status)
	}
	return nil
}

type GetProviderHealthMessage struct {
	ProviderID string
}

func (GetProviderHealthMessage) Type() string { return TypeGetProviderHealth }

func (m GetProviderHealthMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return fmt.Errorf("query: provider id is required")
	}
	return nil
}

type ListProviderHealthMessage struct{}

func (ListProviderHealthMessage) Type() string { return TypeListProviderHealth }

func (ListProviderHealthMessage) Validate() error { return nil }
