package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/idempotency/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPendingIgnoreDuplicate(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	if record == nil {
		return false, errors.New("missing_idempotency_record")
	}
	record.Status = domain.StatusPending

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByActorKey(ctx context.Context, db *gorm.DB, actorID snowflake.ID, key string) (*domain.Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var record domain.Record
	err := db.WithContext(ctx).
		Where("actor_id = ? AND idempotency_key = ?", actorID, key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, result datatypes.JSONMap, at time.Time) error {
	if result == nil {
		result = datatypes.JSONMap{}
	}
	res := db.WithContext(ctx).Model(&domain.Record{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusCompleted,
			"result":     result,
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordLost
	}
	return nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Record{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("updated_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TakeOverStale is a guarded update: only one of several retries racing for
// an abandoned claim sees RowsAffected = 1.
func (r *repo) TakeOverStale(ctx context.Context, db *gorm.DB, id snowflake.ID, staleBefore time.Time, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Record{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, domain.StatusPending, staleBefore.UTC()).
		Update("updated_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Delete(&domain.Record{}).Error
}
