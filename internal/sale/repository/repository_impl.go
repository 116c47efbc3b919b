package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/sale/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const saleColumns = `id, tenant_id, branch_id, user_id, idempotency_key, subtotal, discount,
	vat_amount, total, payment_method, amount_received, change_amount, customer_name,
	customer_phone, pending_payment_id, mpesa_receipt, created_at`

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Sale, error) {
	return r.findOne(ctx, db,
		`SELECT `+saleColumns+` FROM sales WHERE user_id = ? AND idempotency_key = ? LIMIT 1`,
		userID, key,
	)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*domain.Sale, error) {
	return r.findOne(ctx, db,
		`SELECT `+saleColumns+` FROM sales WHERE tenant_id = ? AND id = ? LIMIT 1`,
		tenantID, id,
	)
}

func (r *repo) FindByPendingPaymentID(ctx context.Context, db *gorm.DB, pendingPaymentID snowflake.ID) (*domain.Sale, error) {
	return r.findOne(ctx, db,
		`SELECT `+saleColumns+` FROM sales WHERE pending_payment_id = ? LIMIT 1`,
		pendingPaymentID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Sale, error) {
	var sale domain.Sale
	result := db.WithContext(ctx).Raw(query, args...).Scan(&sale)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &sale, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, saleID snowflake.ID) ([]domain.SaleItem, error) {
	var items []domain.SaleItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, sale_id, product_id, name, quantity, unit_price, line_total
		 FROM sale_items WHERE sale_id = ? ORDER BY id ASC`,
		saleID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sale *domain.Sale) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sales (`+saleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID,
		sale.TenantID,
		sale.BranchID,
		sale.UserID,
		sale.IdempotencyKey,
		sale.Subtotal,
		sale.Discount,
		sale.VatAmount,
		sale.Total,
		sale.PaymentMethod,
		sale.AmountReceived,
		sale.ChangeAmount,
		sale.CustomerName,
		sale.CustomerPhone,
		sale.PendingPaymentID,
		sale.MpesaReceipt,
		sale.CreatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.SaleItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO sale_items (id, sale_id, product_id, name, quantity, unit_price, line_total)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.SaleID,
			item.ProductID,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) BranchExists(ctx context.Context, db *gorm.DB, tenantID string, branchID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM branches WHERE tenant_id = ? AND id = ?`,
		tenantID, branchID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
