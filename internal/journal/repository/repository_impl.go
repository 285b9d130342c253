package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/journal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIgnoreDuplicate relies on the (actor_id, idempotency_key) unique
// index: two concurrent first-time inserts race at the storage layer and
// exactly one wins. RowsAffected tells the loser apart.
func (r *repo) InsertIgnoreDuplicate(ctx context.Context, db *gorm.DB, entry *domain.JournalEntry) (bool, error) {
	if entry == nil {
		return false, errors.New("missing_journal_entry")
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByActorKey(ctx context.Context, db *gorm.DB, actorID snowflake.ID, key string) (*domain.JournalEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var entry domain.JournalEntry
	err := db.WithContext(ctx).
		Where("actor_id = ? AND idempotency_key = ?", actorID, key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.JournalEntry, error) {
	var entries []*domain.JournalEntry
	stmt := db.WithContext(ctx).Model(&domain.JournalEntry{}).
		Where("org_id = ?", filter.OrgID)

	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.ActorID != 0 {
		stmt = stmt.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SumByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE -amount END), 0)
		 FROM journal_entries
		 WHERE org_id = ? AND customer_id = ?`,
		orgID,
		customerID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
