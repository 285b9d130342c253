package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/credit/domain"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	"gorm.io/gorm"
)

// casMaxRetries bounds the clamp loop; each miss means another writer moved
// the balance between our read and our conditional write.
const casMaxRetries = 16

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET outstanding = outstanding + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ?`,
		delta, orgID, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementWithinThreshold(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET outstanding = outstanding + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ?
		   AND outstanding + ? <= limit_amount + grace_amount`,
		delta, orgID, id, delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DecrementClamped(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, delta int64) (int64, bool, error) {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		var current customerdomain.Customer
		err := db.WithContext(ctx).
			Select("id", "outstanding").
			Where("org_id = ? AND id = ?", orgID, id).
			First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, false, domain.ErrCustomerNotFound
			}
			return 0, false, err
		}

		next := current.Outstanding - delta
		clamped := false
		if next < 0 {
			next = 0
			clamped = true
		}

		res := db.WithContext(ctx).Exec(
			`UPDATE customers
			 SET outstanding = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE org_id = ? AND id = ? AND outstanding = ?`,
			next, orgID, id, current.Outstanding,
		)
		if res.Error != nil {
			return 0, false, res.Error
		}
		if res.RowsAffected > 0 {
			return next, clamped, nil
		}
		// Lost the swap; re-read and try again.
	}
	return 0, false, errors.New("release_contention_exhausted")
}
