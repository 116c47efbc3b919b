package service

import (
	"context"

	"github.com/smallbiznis/tillpoint/internal/audit/masking"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"go.uber.org/zap"
)

// LogRefunder records refund requests for an operator. The gateway reversal
// API is not called.
type LogRefunder struct {
	log *zap.Logger
}

func NewLogRefunder(log *zap.Logger) paymentdomain.Refunder {
	return &LogRefunder{log: log.Named("payment.refunder")}
}

func (r *LogRefunder) RequestRefund(ctx context.Context, item paymentdomain.ReconciliationItem) error {
	r.log.Warn("manual refund required",
		zap.String("tenant_id", item.TenantID),
		zap.String("reconciliation_id", item.ID.String()),
		zap.String("checkout_request_id", item.CheckoutRequestID),
		zap.Int64("amount", item.Amount),
		zap.String("phone", masking.MaskPhone(item.PhoneNumber)),
	)
	return nil
}
