package repo

import (
	"context"
	"time"

	"github.com/richardliu001/vending-service/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
)

// categories groups transaction types the way the admin console filters them.
var categories = map[string][]model.TransactionType{
	"utilities":     {model.TypeElectricity, "water", "waste"},
	"entertainment": {model.TypeCableTV, model.TypeInternet},
	"telecoms":      {model.TypeAirtime, model.TypeData},
}

// TransactionFilter narrows ListTransactions. Zero values are ignored.
type TransactionFilter struct {
	UserID    *uint64
	Type      model.TransactionType
	Category  string
	Status    model.TransactionStatus
	Provider  string
	Reference string
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PerPage   int
}

// Normalize clamps paging to sane bounds.
func (f *TransactionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
}

// ListTransactions returns one page, newest first, and the total match count.
func (r *Repository) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error) {
	f.Normalize()
	q := applyFilter(r.db.WithContext(ctx).Model(&model.Transaction{}), f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []model.Transaction
	err := q.Order("created_at desc").Order("id desc").
		Offset((f.Page - 1) * f.PerPage).
		Limit(f.PerPage).
		Find(&txs).Error
	return txs, total, err
}

func applyFilter(q *gorm.DB, f TransactionFilter) *gorm.DB {
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if types, ok := categories[f.Category]; ok {
		q = q.Where("type IN ?", types)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Provider != "" {
		q = q.Where("provider_name = ?", f.Provider)
	}
	if f.Reference != "" {
		q = q.Where("reference = ?", f.Reference)
	}
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", *f.EndDate)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		// new session so the OR group does not inherit the outer conditions
		grp := q.Session(&gorm.Session{NewDB: true}).
			Where("reference LIKE ?", like)
		for _, key := range []string{"email", "customer_name", "phone", "meter_number"} {
			grp = grp.Or(datatypes.JSONQuery("meta").Likes(like, "bill_data", key))
		}
		q = q.Where(grp)
	}
	return q
}
