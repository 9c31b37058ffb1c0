package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type verificationRecord struct {
	bun.BaseModel `bun:"table:verifications,alias:v"`

	ID                     string     `bun:"id,pk"`
	UserID                 string     `bun:"user_id,notnull"`
	ProviderID             string     `bun:"provider_id"`
	ProviderVerificationID string     `bun:"provider_verification_id"`
	PhoneNumber            string     `bun:"phone_number"`
	ServiceName            string     `bun:"service_name,notnull"`
	Country                string     `bun:"country,notnull"`
	Status                 string     `bun:"status,notnull"`
	CostReserved           int64      `bun:"cost_reserved,notnull"`
	CostQuoted             int64      `bun:"cost_quoted,notnull"`
	CostSettled            int64      `bun:"cost_settled,notnull"`
	SMSCode                string     `bun:"sms_code"`
	ReservationID          string     `bun:"reservation_id"`
	AttemptCount           int        `bun:"attempt_count,notnull"`
	ExpiresAt              *time.Time `bun:"expires_at,nullzero"`
	CompletedAt            *time.Time `bun:"completed_at,nullzero"`
	Version                int        `bun:"version,notnull"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type creditReservationRecord struct {
	bun.BaseModel `bun:"table:credit_reservations,alias:cr"`

	ID             string    `bun:"id,pk"`
	VerificationID string    `bun:"verification_id,notnull"`
	AmountReserved int64     `bun:"amount_reserved,notnull"`
	State          string    `bun:"state,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type providerHealthRecord struct {
	bun.BaseModel `bun:"table:provider_health,alias:ph"`

	ProviderID          string     `bun:"provider_id,pk"`
	WindowStart         time.Time  `bun:"window_start,nullzero"`
	Successes           int        `bun:"successes,notnull"`
	Failures            int        `bun:"failures,notnull"`
	ConsecutiveFailures int        `bun:"consecutive_failures,notnull"`
	CircuitState        string     `bun:"circuit_state,notnull"`
	OpenedAt            *time.Time `bun:"opened_at,nullzero"`
	AvailableBalance    int64      `bun:"available_balance,notnull"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID            string     `bun:"id,pk"`
	ClaimID       string     `bun:"claim_id,notnull"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LeaseUntil    *time.Time `bun:"lease_until,nullzero"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	LastError     string     `bun:"last_error"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:rate_limit_states,alias:rls"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_total,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
