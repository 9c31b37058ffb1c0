package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smsbroker/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type VerificationStore struct {
	db   *bun.DB
	repo repository.Repository[*verificationRecord]
}

func NewVerificationStore(db *bun.DB) (*VerificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*verificationRecord](db, verificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid verification repository wiring: %w", err)
		}
	}
	return &VerificationStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *VerificationStore) Create(ctx context.Context, v *core.Verification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: verification store is not configured")
	}
	if v == nil {
		return fmt.Errorf("sqlstore: verification is required")
	}
	if strings.TrimSpace(v.ID) == "" {
		v.ID = uuid.NewString()
	}
	v.Version = 1
	record := verificationFromDomain(v)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: insert verification %s: %w", v.ID, err)
	}
	return nil
}

func (s *VerificationStore) Get(ctx context.Context, id string) (core.Verification, error) {
	if s == nil || s.db == nil {
		return core.Verification{}, fmt.Errorf("sqlstore: verification store is not configured")
	}
	record := &verificationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Verification{}, fmt.Errorf("%w: %s", core.ErrVerificationNotFound, id)
		}
		return core.Verification{}, err
	}
	return verificationToDomain(record), nil
}

func (s *VerificationStore) GetByProviderRef(
	ctx context.Context,
	providerID string,
	providerVerificationID string,
) (core.Verification, error) {
	if s == nil || s.db == nil {
		return core.Verification{}, fmt.Errorf("sqlstore: verification store is not configured")
	}
	record := &verificationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.provider_verification_id = ?", strings.TrimSpace(providerVerificationID)).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Verification{}, fmt.Errorf(
				"%w: provider %q ref %q",
				core.ErrVerificationNotFound, providerID, providerVerificationID,
			)
		}
		return core.Verification{}, err
	}
	return verificationToDomain(record), nil
}

// Update performs the version compare-and-swap: the row must still carry the
// version the caller read, and the write bumps it by one.
func (s *VerificationStore) Update(ctx context.Context, v *core.Verification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: verification store is not configured")
	}
	if v == nil {
		return fmt.Errorf("sqlstore: verification is required")
	}
	expected := v.Version
	v.Version = expected + 1
	v.UpdatedAt = v.UpdatedAt.UTC()
	record := verificationFromDomain(v)

	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		v.Version = expected
		return fmt.Errorf("sqlstore: update verification %s: %w", v.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		v.Version = expected
		return fmt.Errorf("sqlstore: update verification %s: %w", v.ID, err)
	}
	if affected == 0 {
		v.Version = expected
		return fmt.Errorf("%w: verification %s version %d", core.ErrVersionConflict, v.ID, expected)
	}
	return nil
}

func (s *VerificationStore) ListByStatus(
	ctx context.Context,
	status core.VerificationStatus,
) ([]core.Verification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: verification store is not configured")
	}
	var records []*verificationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return verificationsToDomain(records), nil
}

func (s *VerificationStore) ListExpired(ctx context.Context, before time.Time) ([]core.Verification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: verification store is not configured")
	}
	var records []*verificationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.VerificationStatusAwaitingSMS)).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at <= ?", before.UTC()).
		OrderExpr("?TableAlias.expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return verificationsToDomain(records), nil
}

func verificationFromDomain(v *core.Verification) *verificationRecord {
	if v == nil {
		return nil
	}
	record := &verificationRecord{
		ID:                     strings.TrimSpace(v.ID),
		UserID:                 v.UserID,
		ProviderID:             v.ProviderID,
		ProviderVerificationID: v.ProviderVerificationID,
		PhoneNumber:            v.PhoneNumber,
		ServiceName:            v.ServiceName,
		Country:                v.Country,
		Status:                 string(v.Status),
		CostReserved:           v.CostReserved,
		CostQuoted:             v.CostQuoted,
		CostSettled:            v.CostSettled,
		SMSCode:                v.SMSCode,
		ReservationID:          v.ReservationID,
		AttemptCount:           v.AttemptCount,
		Version:                v.Version,
		CreatedAt:              v.CreatedAt.UTC(),
		UpdatedAt:              v.UpdatedAt.UTC(),
	}
	if !v.ExpiresAt.IsZero() {
		expires := v.ExpiresAt.UTC()
		record.ExpiresAt = &expires
	}
	if v.CompletedAt != nil {
		completed := v.CompletedAt.UTC()
		record.CompletedAt = &completed
	}
	return record
}

func verificationToDomain(record *verificationRecord) core.Verification {
	if record == nil {
		return core.Verification{}
	}
	v := core.Verification{
		ID:                     record.ID,
		UserID:                 record.UserID,
		ProviderID:             record.ProviderID,
		ProviderVerificationID: record.ProviderVerificationID,
		PhoneNumber:            record.PhoneNumber,
		ServiceName:            record.ServiceName,
		Country:                record.Country,
		Status:                 core.VerificationStatus(record.Status),
		CostReserved:           record.CostReserved,
		CostQuoted:             record.CostQuoted,
		CostSettled:            record.CostSettled,
		SMSCode:                record.SMSCode,
		ReservationID:          record.ReservationID,
		AttemptCount:           record.AttemptCount,
		Version:                record.Version,
		CreatedAt:              record.CreatedAt,
		UpdatedAt:              record.UpdatedAt,
	}
	if record.ExpiresAt != nil {
		v.ExpiresAt = *record.ExpiresAt
	}
	if record.CompletedAt != nil {
		completed := *record.CompletedAt
		v.CompletedAt = &completed
	}
	return v
}

func verificationsToDomain(records []*verificationRecord) []core.Verification {
	out := make([]core.Verification, 0, len(records))
	for _, record := range records {
		out = append(out, verificationToDomain(record))
	}
	return out
}

var _ core.VerificationStore = (*VerificationStore)(nil)
