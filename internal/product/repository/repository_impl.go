package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/product/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, tenantID string, ids []snowflake.ID) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, name, price, stock, deleted_at, created_at, updated_at
		 FROM products
		 WHERE tenant_id = ? AND id IN ? AND deleted_at IS NULL`,
		tenantID, ids,
	).Scan(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) DecrementStock(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, qty int, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE products
		 SET stock = stock - ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND stock >= ? AND deleted_at IS NULL`,
		qty, at, id, tenantID, qty,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
