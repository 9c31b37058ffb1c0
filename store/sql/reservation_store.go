package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smsbroker/core"
	"github.com/uptrace/bun"
)

// CreditReservationStore mirrors holds taken against the external credit
// ledger so settlement outcomes are auditable next to the verification rows.
type CreditReservationStore struct {
	db   *bun.DB
	repo repository.Repository[*creditReservationRecord]
}

func NewCreditReservationStore(db *bun.DB) (*CreditReservationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*creditReservationRecord](db, creditReservationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credit reservation repository wiring: %w", err)
		}
	}
	return &CreditReservationStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *CreditReservationStore) Create(ctx context.Context, r *core.CreditReservation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credit reservation store is not configured")
	}
	if r == nil {
		return fmt.Errorf("sqlstore: credit reservation is required")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("sqlstore: credit reservation id is required")
	}
	record := creditReservationFromDomain(r)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: insert credit reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *CreditReservationStore) Get(ctx context.Context, id string) (core.CreditReservation, error) {
	if s == nil || s.db == nil {
		return core.CreditReservation{}, fmt.Errorf("sqlstore: credit reservation store is not configured")
	}
	record := &creditReservationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.CreditReservation{}, fmt.Errorf("%w: %s", core.ErrReservationNotFound, id)
		}
		return core.CreditReservation{}, err
	}
	return creditReservationToDomain(record), nil
}

func (s *CreditReservationStore) Update(ctx context.Context, r *core.CreditReservation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credit reservation store is not configured")
	}
	if r == nil {
		return fmt.Errorf("sqlstore: credit reservation is required")
	}
	record := creditReservationFromDomain(r)
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: update credit reservation %s: %w", r.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update credit reservation %s: %w", r.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrReservationNotFound, r.ID)
	}
	return nil
}

func creditReservationFromDomain(r *core.CreditReservation) *creditReservationRecord {
	if r == nil {
		return nil
	}
	return &creditReservationRecord{
		ID:             strings.TrimSpace(r.ID),
		VerificationID: r.VerificationID,
		AmountReserved: r.AmountReserved,
		State:          string(r.State),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func creditReservationToDomain(record *creditReservationRecord) core.CreditReservation {
	if record == nil {
		return core.CreditReservation{}
	}
	return core.CreditReservation{
		ID:             record.ID,
		VerificationID: record.VerificationID,
		AmountReserved: record.AmountReserved,
		State:          core.ReservationState(record.State),
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

var _ core.ReservationStore = (*CreditReservationStore)(nil)
