package option

import (
	"strings"

	"github.com/payrail/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination applies cursor pagination: limit+1 rows so the caller can
// detect a next page, keyset predicate from the decoded token.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if size > 250 {
			size = 250
		}

		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor != nil {
				db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
					cursor.CreatedAt,
					cursor.CreatedAt,
					cursor.ID,
				)
			}
		}

		return db.Limit(size + 1)
	})
}

// QuerySortBy restricts sortable columns to an allow list.
type QuerySortBy struct {
	Column string
	Desc   bool
	Allow  map[string]bool
}

// WithSortBy orders results by an allowed column, newest first by default.
func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.Column)
		if column == "" || (sort.Allow != nil && !sort.Allow[column]) {
			column = "created_at"
		}
		direction := "desc"
		if !sort.Desc && sort.Column != "" {
			direction = "asc"
		}
		return db.Order(column + " " + direction + ", id desc")
	})
}
