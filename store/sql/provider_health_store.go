package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-smsbroker/core"
	"github.com/uptrace/bun"
)

// ProviderHealthStore persists the per-provider circuit ledger. Rows are
// keyed by provider id; there is exactly one row per configured vendor.
type ProviderHealthStore struct {
	db *bun.DB
}

func NewProviderHealthStore(db *bun.DB) (*ProviderHealthStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ProviderHealthStore{db: db}, nil
}

func (s *ProviderHealthStore) Get(ctx context.Context, providerID string) (core.ProviderHealth, error) {
	if s == nil || s.db == nil {
		return core.ProviderHealth{}, fmt.Errorf("sqlstore: provider health store is not configured")
	}
	record := &providerHealthRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ProviderHealth{}, fmt.Errorf("%w: %s", core.ErrProviderHealthNotFound, providerID)
		}
		return core.ProviderHealth{}, err
	}
	return providerHealthToDomain(record), nil
}

func (s *ProviderHealthStore) Upsert(ctx context.Context, health core.ProviderHealth) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: provider health store is not configured")
	}
	if strings.TrimSpace(health.ProviderID) == "" {
		return fmt.Errorf("sqlstore: provider id is required")
	}
	if health.UpdatedAt.IsZero() {
		health.UpdatedAt = time.Now().UTC()
	}
	record := providerHealthFromDomain(health)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("window_start = EXCLUDED.window_start").
		Set("successes = EXCLUDED.successes").
		Set("failures = EXCLUDED.failures").
		Set("consecutive_failures = EXCLUDED.consecutive_failures").
		Set("circuit_state = EXCLUDED.circuit_state").
		Set("opened_at = EXCLUDED.opened_at").
		Set("available_balance = EXCLUDED.available_balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert provider health %s: %w", health.ProviderID, err)
	}
	return nil
}

func (s *ProviderHealthStore) List(ctx context.Context) ([]core.ProviderHealth, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: provider health store is not configured")
	}
	var records []*providerHealthRecord
	err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.provider_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProviderHealth, 0, len(records))
	for _, record := range records {
		out = append(out, providerHealthToDomain(record))
	}
	return out, nil
}

func providerHealthFromDomain(health core.ProviderHealth) *providerHealthRecord {
	record := &providerHealthRecord{
		ProviderID:          strings.TrimSpace(health.ProviderID),
		WindowStart:         health.WindowStart.UTC(),
		Successes:           health.Successes,
		Failures:            health.Failures,
		ConsecutiveFailures: health.ConsecutiveFailures,
		CircuitState:        string(health.CircuitState),
		AvailableBalance:    health.AvailableBalance,
		UpdatedAt:           health.UpdatedAt.UTC(),
	}
	if health.OpenedAt != nil {
		opened := health.OpenedAt.UTC()
		record.OpenedAt = &opened
	}
	return record
}

func providerHealthToDomain(record *providerHealthRecord) core.ProviderHealth {
	if record == nil {
		return core.ProviderHealth{}
	}
	health := core.ProviderHealth{
		ProviderID:          record.ProviderID,
		WindowStart:         record.WindowStart,
		Successes:           record.Successes,
		Failures:            record.Failures,
		ConsecutiveFailures: record.ConsecutiveFailures,
		CircuitState:        core.CircuitState(record.CircuitState),
		AvailableBalance:    record.AvailableBalance,
		UpdatedAt:           record.UpdatedAt,
	}
	if record.OpenedAt != nil {
		opened := *record.OpenedAt
		health.OpenedAt = &opened
	}
	return health
}

var _ core.ProviderHealthStore = (*ProviderHealthStore)(nil)
