package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *PendingPayment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PendingPayment, error)
	FindByCheckoutID(ctx context.Context, db *gorm.DB, checkoutRequestID string) (*PendingPayment, error)
	// Transition applies t only while the row is still in t.From.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, t Transition) (bool, error)
	LinkSale(ctx context.Context, db *gorm.DB, id, saleID snowflake.ID, at time.Time) (bool, error)
	ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PendingPayment, error)
	ListUnlinkedSuccess(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PendingPayment, error)

	InsertCallback(ctx context.Context, db *gorm.DB, record *CallbackRecord) error
	MarkCallbackProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error

	InsertReconciliationItem(ctx context.Context, db *gorm.DB, item *ReconciliationItem) (bool, error)
	FindReconciliationItem(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*ReconciliationItem, error)
	ListReconciliationItems(ctx context.Context, db *gorm.DB, tenantID string, status ReconciliationStatus, limit int) ([]ReconciliationItem, error)
	ResolveReconciliationItem(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, note string, at time.Time) (bool, error)
}
