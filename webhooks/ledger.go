package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrDeliveryNotFound = errors.New("webhooks: delivery not found")

// MemoryDeliveryLedger is the embedded dedupe ledger. Claim is first-writer-
// wins on (provider_id, delivery_id); a held claim whose lease expired can be
// re-claimed, which covers a crashed handler.
type MemoryDeliveryLedger struct {
	Now func() time.Time

	mu      sync.Mutex
	rows    map[string]*DeliveryRecord
	byClaim map[string]string
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		Now:     func() time.Time { return time.Now().UTC() },
		rows:    map[string]*DeliveryRecord{},
		byClaim: map[string]string{},
	}
}

func deliveryKey(providerID, deliveryID string) string {
	return strings.TrimSpace(providerID) + "\x00" + strings.TrimSpace(deliveryID)
}

func (l *MemoryDeliveryLedger) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	if l == nil {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	if strings.TrimSpace(providerID) == "" || strings.TrimSpace(deliveryID) == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: provider id and delivery id are required")
	}
	now := l.now()
	key := deliveryKey(providerID, deliveryID)

	l.mu.Lock()
	defer l.mu.Unlock()
	row, exists := l.rows[key]
	if exists {
		switch row.Status {
		case DeliveryStatusProcessed, DeliveryStatusDead:
			return *row, false, nil
		case DeliveryStatusProcessing:
			if row.NextAttemptAt != nil && now.Before(*row.NextAttemptAt) {
				return *row, false, nil
			}
		case DeliveryStatusRetryReady:
			if row.NextAttemptAt != nil && now.Before(*row.NextAttemptAt) {
				return *row, false, nil
			}
		}
		delete(l.byClaim, row.ClaimID)
		row.ClaimID = uuid.NewString()
		row.Status = DeliveryStatusProcessing
		leaseUntil := now.Add(lease)
		row.NextAttemptAt = &leaseUntil
		row.UpdatedAt = now
		l.byClaim[row.ClaimID] = key
		return *row, true, nil
	}

	leaseUntil := now.Add(lease)
	row = &DeliveryRecord{
		ID:            uuid.NewString(),
		ClaimID:       uuid.NewString(),
		ProviderID:    strings.TrimSpace(providerID),
		DeliveryID:    strings.TrimSpace(deliveryID),
		Status:        DeliveryStatusProcessing,
		NextAttemptAt: &leaseUntil,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.rows[key] = row
	l.byClaim[row.ClaimID] = key
	return *row, true, nil
}

func (l *MemoryDeliveryLedger) Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	if l == nil {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[deliveryKey(providerID, deliveryID)]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("%w: %s/%s", ErrDeliveryNotFound, providerID, deliveryID)
	}
	return *row, nil
}

func (l *MemoryDeliveryLedger) Complete(ctx context.Context, claimID string) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.byClaimLocked(claimID)
	if err != nil {
		return err
	}
	row.Status = DeliveryStatusProcessed
	row.NextAttemptAt = nil
	row.UpdatedAt = l.now()
	return nil
}

func (l *MemoryDeliveryLedger) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.byClaimLocked(claimID)
	if err != nil {
		return err
	}
	row.Attempts++
	row.UpdatedAt = l.now()
	if maxAttempts > 0 && row.Attempts >= maxAttempts {
		row.Status = DeliveryStatusDead
		row.NextAttemptAt = nil
		return nil
	}
	row.Status = DeliveryStatusRetryReady
	row.NextAttemptAt = &nextAttemptAt
	return nil
}

// Release forgets a held claim entirely. The record is removed, so the same
// delivery id claims fresh on its next arrival.
func (l *MemoryDeliveryLedger) Release(ctx context.Context, claimID string) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.byClaimLocked(claimID)
	if err != nil {
		return err
	}
	delete(l.byClaim, row.ClaimID)
	delete(l.rows, deliveryKey(row.ProviderID, row.DeliveryID))
	return nil
}

// PurgeBefore removes settled deliveries older than the cutoff. Only
// processed and dead rows are eligible; in-flight claims survive.
func (l *MemoryDeliveryLedger) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	purged := 0
	for key, row := range l.rows {
		if row.Status != DeliveryStatusProcessed && row.Status != DeliveryStatusDead {
			continue
		}
		if row.UpdatedAt.After(cutoff) {
			continue
		}
		delete(l.byClaim, row.ClaimID)
		delete(l.rows, key)
		purged++
	}
	return purged, nil
}

func (l *MemoryDeliveryLedger) byClaimLocked(claimID string) (*DeliveryRecord, error) {
	key, ok := l.byClaim[strings.TrimSpace(claimID)]
	if !ok {
		return nil, fmt.Errorf("%w: claim %s", ErrDeliveryNotFound, claimID)
	}
	row, ok := l.rows[key]
	if !ok {
		return nil, fmt.Errorf("%w: claim %s", ErrDeliveryNotFound, claimID)
	}
	return row, nil
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)
