package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindByIDs returns the live products of tenantID among ids. Missing,
	// deleted and foreign products are simply absent from the result.
	FindByIDs(ctx context.Context, db *gorm.DB, tenantID string, ids []snowflake.ID) ([]Product, error)
	// DecrementStock removes qty units only if that many are available and
	// reports whether the row was updated. at stamps updated_at.
	DecrementStock(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, qty int, at time.Time) (bool, error)
}
