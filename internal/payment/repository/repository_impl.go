package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const pendingColumns = `id, tenant_id, user_id, provider, phone_number, amount, merchant_request_id,
	checkout_request_id, status, receipt_number, result_code, message, cart_snapshot,
	sale_id, created_at, updated_at, resolved_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.PendingPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_payments (`+pendingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.TenantID,
		payment.UserID,
		payment.Provider,
		payment.PhoneNumber,
		payment.Amount,
		payment.MerchantRequestID,
		payment.CheckoutRequestID,
		payment.Status,
		payment.ReceiptNumber,
		payment.ResultCode,
		payment.Message,
		payment.CartSnapshot,
		payment.SaleID,
		payment.CreatedAt,
		payment.UpdatedAt,
		payment.ResolvedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PendingPayment, error) {
	var item domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+pendingColumns+`
		 FROM pending_payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByCheckoutID(ctx context.Context, db *gorm.DB, checkoutRequestID string) (*domain.PendingPayment, error) {
	var item domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+pendingColumns+`
		 FROM pending_payments
		 WHERE checkout_request_id = ?
		 LIMIT 1`,
		checkoutRequestID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, t domain.Transition) (bool, error) {
	query := `UPDATE pending_payments
		 SET status = ?,
			receipt_number = COALESCE(?, receipt_number),
			result_code = COALESCE(?, result_code),
			message = ?,
			updated_at = ?,
			resolved_at = ?
		 WHERE id = ? AND status = ?`
	if t.Unlinked {
		query += ` AND sale_id IS NULL`
	}
	res := db.WithContext(ctx).Exec(query,
		t.To,
		t.ReceiptNumber,
		t.ResultCode,
		t.Message,
		t.At,
		t.At,
		id,
		t.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) LinkSale(ctx context.Context, db *gorm.DB, id, saleID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE pending_payments
		 SET sale_id = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND sale_id IS NULL`,
		saleID,
		at,
		id,
		domain.StatusSuccess,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PendingPayment, error) {
	var items []domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+pendingColumns+`
		 FROM pending_payments
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusPending,
		cutoff,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUnlinkedSuccess(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PendingPayment, error) {
	var items []domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+pendingColumns+`
		 FROM pending_payments
		 WHERE status = ? AND sale_id IS NULL AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatusSuccess,
		cutoff,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertCallback(ctx context.Context, db *gorm.DB, record *domain.CallbackRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_callbacks (
			id, provider, checkout_request_id, result_code, payload, received_at, processed_at, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Provider,
		record.CheckoutRequestID,
		record.ResultCode,
		record.Payload,
		record.ReceivedAt,
		record.ProcessedAt,
		record.Outcome,
	).Error
}

func (r *repo) MarkCallbackProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_callbacks
		 SET processed_at = ?, outcome = ?
		 WHERE id = ?`,
		at,
		outcome,
		id,
	).Error
}

const reconciliationColumns = `id, tenant_id, pending_payment_id, checkout_request_id, amount,
	receipt_number, phone_number, reason, status, resolution_note, created_at, resolved_at`

// InsertReconciliationItem keeps the first item recorded for a pending payment.
func (r *repo) InsertReconciliationItem(ctx context.Context, db *gorm.DB, item *domain.ReconciliationItem) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pending_payment_id"}},
			DoNothing: true,
		}).
		Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindReconciliationItem(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*domain.ReconciliationItem, error) {
	var item domain.ReconciliationItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+reconciliationColumns+`
		 FROM payment_reconciliation_items
		 WHERE tenant_id = ? AND id = ?
		 LIMIT 1`,
		tenantID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListReconciliationItems(ctx context.Context, db *gorm.DB, tenantID string, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationItem, error) {
	query := `SELECT ` + reconciliationColumns + `
		 FROM payment_reconciliation_items
		 WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var items []domain.ReconciliationItem
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ResolveReconciliationItem(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, note string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_reconciliation_items
		 SET status = ?, resolution_note = ?, resolved_at = ?
		 WHERE tenant_id = ? AND id = ? AND status = ?`,
		domain.ReconciliationResolved,
		note,
		at,
		tenantID,
		id,
		domain.ReconciliationOpen,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
