package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Status is the local lifecycle state of a payment intent.
type Status string

const (
	StatusCreated        Status = "created"
	StatusRequiresAction Status = "requires_action"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IntentRecord is the durable representation of one payment attempt.
// Records are never deleted; they are retained for audit and replay dedup.
type IntentRecord struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	IdempotencyKey   string       `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	ProviderIntentID *string      `json:"provider_intent_id" gorm:"type:text;uniqueIndex"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"type:text;not null"`
	Status           Status       `json:"status" gorm:"type:text;not null;index"`
	ClientSecret     *string      `json:"-" gorm:"type:text"`
	LastEventID      *string      `json:"last_event_id" gorm:"type:text"`
	LastEventAt      *time.Time   `json:"last_event_at"`
	FailureReason    *string      `json:"failure_reason" gorm:"type:text"`
	Version          int64        `json:"version" gorm:"not null"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (IntentRecord) TableName() string { return "payment_intents" }

// WebhookEvent is the decoded, verified webhook envelope. It is transient:
// the only durable trace it leaves is the dedup marker on the intent record.
type WebhookEvent struct {
	ID               string
	Type             string
	ProviderIntentID string
	Status           string
	OccurredAt       time.Time
	RawPayload       []byte
}

// ApplyResult classifies the outcome of applying a webhook event.
type ApplyResult string

const (
	ResultApplied        ApplyResult = "applied"
	ResultDuplicate      ApplyResult = "duplicate"
	ResultStale          ApplyResult = "stale_ignored"
	ResultRecordNotFound ApplyResult = "record_not_found"
	ResultNoop           ApplyResult = "noop"
)

// CreateIntentInput carries the validated caller request.
type CreateIntentInput struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	Metadata       map[string]string
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*IntentRecord, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*IntentRecord, error)
	FindByProviderIntentID(ctx context.Context, db *gorm.DB, providerIntentID string) (*IntentRecord, error)
	Insert(ctx context.Context, db *gorm.DB, record *IntentRecord) (bool, error)
	UpdateWithVersion(ctx context.Context, db *gorm.DB, record *IntentRecord, expectedVersion int64) error
	ListStuckCreated(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]IntentRecord, error)
}

type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentRecord, error)
	GetIntent(ctx context.Context, id snowflake.ID) (*IntentRecord, error)
	ApplyEvent(ctx context.Context, event *WebhookEvent) (ApplyResult, error)
}

// IngestService is the webhook boundary: verification then apply.
type IngestService interface {
	IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (ApplyResult, error)
}
