package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/customer/domain"
	"github.com/payrail/creditcore/pkg/db/option"
	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, email, outstanding, limit_enabled, limit_amount,
		        grace_amount, allow_override, metadata, created_at, updated_at
		 FROM customers WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListCustomerFilter, page pagination.Pagination) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("org_id = ?", orgID)
	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) UpdateLimits(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, limits domain.LimitConfig) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET limit_enabled = ?, limit_amount = ?, grace_amount = ?, allow_override = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		limits.LimitEnabled,
		limits.LimitAmount,
		limits.GraceAmount,
		limits.AllowOverride,
		time.Now().UTC(),
		orgID,
		id,
	)
	return result.RowsAffected, result.Error
}
