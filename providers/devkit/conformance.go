package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsbroker/core"
	"github.com/goliatone/go-smsbroker/webhooks"
)

// ValidateProviderAdapterConformance exercises the full rent/poll/cancel
// cycle against an adapter and checks the invariants every vendor
// integration must hold.
func ValidateProviderAdapterConformance(
	ctx context.Context,
	adapter core.ProviderAdapter,
	req core.AcquireRequest,
) error {
	if adapter == nil {
		return fmt.Errorf("devkit: provider adapter is required")
	}
	if strings.TrimSpace(adapter.ID()) == "" {
		return fmt.Errorf("devkit: provider adapter id is required")
	}

	handle, err := adapter.AcquireNumber(ctx, req)
	if err != nil {
		return err
	}
	if strings.TrimSpace(handle.ProviderVerificationID) == "" {
		return fmt.Errorf("devkit: acquisition must return a provider verification id")
	}
	if strings.TrimSpace(handle.PhoneNumber) == "" {
		return fmt.Errorf("devkit: acquisition must return a phone number")
	}

	if _, err := adapter.CheckMessages(ctx, handle); err != nil {
		return err
	}
	if _, err := adapter.Cancel(ctx, handle); err != nil {
		return err
	}
	return nil
}

// ValidateDeliveryLedgerConformance checks the claim lifecycle every dedupe
// ledger implementation must honor.
func ValidateDeliveryLedgerConformance(
	ctx context.Context,
	ledger webhooks.DeliveryLedger,
	providerID string,
	deliveryID string,
) error {
	if ledger == nil {
		return fmt.Errorf("devkit: delivery ledger is required")
	}
	record, accepted, err := ledger.Claim(ctx, providerID, deliveryID, nil, time.Minute)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("devkit: first claim should be accepted")
	}

	if _, accepted, err := ledger.Claim(ctx, providerID, deliveryID, nil, time.Minute); err != nil {
		return err
	} else if accepted {
		return fmt.Errorf("devkit: second claim should not be accepted while lease is active")
	}

	if err := ledger.Complete(ctx, record.ClaimID); err != nil {
		return err
	}
	loaded, err := ledger.Get(ctx, providerID, deliveryID)
	if err != nil {
		return err
	}
	if loaded.Status != webhooks.DeliveryStatusProcessed {
		return fmt.Errorf("devkit: expected processed status, got %q", loaded.Status)
	}
	if _, accepted, err := ledger.Claim(ctx, providerID, deliveryID, nil, time.Minute); err != nil {
		return err
	} else if accepted {
		return fmt.Errorf("devkit: processed delivery must stay claimed")
	}
	return nil
}
