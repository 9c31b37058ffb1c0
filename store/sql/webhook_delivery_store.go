package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smsbroker/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the durable dedupe ledger behind webhook
// reconciliation. The unique (provider_id, delivery_id) index makes redundant
// vendor retries claim-refused instead of double-processed.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: provider id and delivery id are required")
	}
	now := s.now()
	leaseUntil := now.Add(lease)

	var claimed webhooks.DeliveryRecord
	var accepted bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findWebhookDeliveryTx(ctx, tx, providerID, deliveryID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &webhookDeliveryRecord{
				ID:         uuid.NewString(),
				ClaimID:    uuid.NewString(),
				ProviderID: providerID,
				DeliveryID: deliveryID,
				Status:     webhooks.DeliveryStatusProcessing,
				LeaseUntil: &leaseUntil,
				Payload:    append([]byte(nil), payload...),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					// Another worker won the race; report the row it owns.
					existing, getErr := findWebhookDeliveryTx(ctx, tx, providerID, deliveryID)
					if getErr != nil {
						return getErr
					}
					claimed = webhookDeliveryToDomain(existing)
					accepted = false
					return nil
				}
				return insertErr
			}
			claimed = webhookDeliveryToDomain(record)
			accepted = true
			return nil
		}

		if !webhookDeliveryClaimable(record, now) {
			claimed = webhookDeliveryToDomain(record)
			accepted = false
			return nil
		}

		record.ClaimID = uuid.NewString()
		record.Status = webhooks.DeliveryStatusProcessing
		record.LeaseUntil = &leaseUntil
		record.NextAttemptAt = nil
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		claimed = webhookDeliveryToDomain(record)
		accepted = true
		return nil
	})
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	return claimed, accepted, nil
}

// webhookDeliveryClaimable reports whether an existing row may be reclaimed:
// terminal rows never are, and in-progress or scheduled rows only once their
// lease or retry window has passed.
func webhookDeliveryClaimable(record *webhookDeliveryRecord, now time.Time) bool {
	switch record.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return false
	case webhooks.DeliveryStatusProcessing:
		return record.LeaseUntil == nil || !record.LeaseUntil.After(now)
	case webhooks.DeliveryStatusRetryReady:
		return record.NextAttemptAt == nil || !record.NextAttemptAt.After(now)
	}
	return true
}

func (s *WebhookDeliveryStore) Get(
	ctx context.Context,
	providerID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return webhooks.DeliveryRecord{}, fmt.Errorf(
				"%w: provider %q delivery %q",
				webhooks.ErrDeliveryNotFound, providerID, deliveryID,
			)
		}
		return webhooks.DeliveryRecord{}, err
	}
	return webhookDeliveryToDomain(record), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	now := s.now()
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("lease_until = NULL").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireClaimMatched(result, claimID)
}

func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	now := s.now()
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &webhookDeliveryRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.claim_id = ?", claimID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: claim %q", webhooks.ErrDeliveryNotFound, claimID)
			}
			return err
		}

		record.Attempts++
		record.LastError = lastError
		record.LeaseUntil = nil
		record.UpdatedAt = now
		if record.Attempts >= maxAttempts {
			record.Status = webhooks.DeliveryStatusDead
			record.NextAttemptAt = nil
		} else {
			record.Status = webhooks.DeliveryStatusRetryReady
			next := nextAttemptAt.UTC()
			record.NextAttemptAt = &next
		}
		_, err = tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return err
	})
}

// Release deletes a held claim outright so the delivery id can claim fresh on
// the vendor's next attempt.
func (s *WebhookDeliveryStore) Release(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireClaimMatched(result, claimID)
}

// PurgeBefore deletes terminal rows last touched at or before the cutoff.
// In-flight claims survive regardless of age.
func (s *WebhookDeliveryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status IN (?, ?)", webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead).
		Where("updated_at <= ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func findWebhookDeliveryTx(
	ctx context.Context,
	tx bun.Tx,
	providerID string,
	deliveryID string,
) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func requireClaimMatched(result sql.Result, claimID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: claim %q", webhooks.ErrDeliveryNotFound, claimID)
	}
	return nil
}

func webhookDeliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	result := webhooks.DeliveryRecord{
		ID:         record.ID,
		ClaimID:    record.ClaimID,
		ProviderID: record.ProviderID,
		DeliveryID: record.DeliveryID,
		Status:     record.Status,
		Attempts:   record.Attempts,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		result.NextAttemptAt = &value
	}
	return result
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ webhooks.DeliveryLedger = (*WebhookDeliveryStore)(nil)
