package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID, key string) (*Sale, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*Sale, error)
	FindByPendingPaymentID(ctx context.Context, db *gorm.DB, pendingPaymentID snowflake.ID) (*Sale, error)
	ListItems(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]SaleItem, error)
	Insert(ctx context.Context, db *gorm.DB, sale *Sale) error
	InsertItems(ctx context.Context, db *gorm.DB, items []SaleItem) error
	BranchExists(ctx context.Context, db *gorm.DB, tenantID string, branchID snowflake.ID) (bool, error)
}
