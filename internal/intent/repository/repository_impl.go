package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/intent/domain"
	pkgdb "github.com/smallbiznis/payflow/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.IntentRecord, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.IntentRecord, error) {
	return r.findOne(ctx, db, "idempotency_key = ?", key)
}

func (r *repo) FindByProviderIntentID(ctx context.Context, db *gorm.DB, providerIntentID string) (*domain.IntentRecord, error) {
	return r.findOne(ctx, db, "provider_intent_id = ?", providerIntentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.IntentRecord, error) {
	var item domain.IntentRecord
	err := db.WithContext(ctx).Where(query, arg).Limit(1).Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Insert reserves the idempotency key. The unique constraint makes
// concurrent duplicate creations collapse to one row; a duplicate
// reports inserted=false rather than an error.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.IntentRecord) (bool, error) {
	err := db.WithContext(ctx).Create(record).Error
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateWithVersion commits the record only if nobody else mutated it
// since the read. The version check is the optimistic-concurrency guard;
// a vanished row count means a concurrent writer won.
func (r *repo) UpdateWithVersion(ctx context.Context, db *gorm.DB, record *domain.IntentRecord, expectedVersion int64) error {
	record.Version = expectedVersion + 1
	record.UpdatedAt = time.Now().UTC()

	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET provider_intent_id = ?, status = ?, client_secret = ?,
			 last_event_id = ?, last_event_at = ?, failure_reason = ?,
			 version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		record.ProviderIntentID,
		record.Status,
		record.ClientSecret,
		record.LastEventID,
		record.LastEventAt,
		record.FailureReason,
		record.Version,
		record.UpdatedAt,
		record.ID,
		expectedVersion,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			// provider_intent_id collided with another record
			return res.Error
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		record.Version = expectedVersion
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repo) ListStuckCreated(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.IntentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.IntentRecord
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusCreated, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
