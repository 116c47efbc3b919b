package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/audit/masking"
	"github.com/smallbiznis/tillpoint/internal/clock"
	obscontext "github.com/smallbiznis/tillpoint/internal/observability/context"
	"github.com/smallbiznis/tillpoint/internal/observability/logger"
	"github.com/smallbiznis/tillpoint/internal/observability/metrics"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IdempotencyKeyPrefix namespaces sale keys derived from a pending payment so
// they never collide with keys minted by a till.
const IdempotencyKeyPrefix = "gateway_"

const (
	stockUnavailableMessage = "Stock unavailable for one or more items"
	repairGrace             = 2 * time.Minute
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	SaleSvc  saledomain.Service
	SaleRepo saledomain.Repository

	AuditSvc   auditdomain.Service    `optional:"true"`
	Refunder   paymentdomain.Refunder `optional:"true"`
	Events     *realtime.Hub          `optional:"true"`
	ObsMetrics *metrics.Metrics       `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	saleSvc  saledomain.Service
	saleRepo saledomain.Repository

	auditSvc   auditdomain.Service
	refunder   paymentdomain.Refunder
	events     *realtime.Hub
	obsMetrics *metrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		adapters:   p.Adapters,
		saleSvc:    p.SaleSvc,
		saleRepo:   p.SaleRepo,
		auditSvc:   p.AuditSvc,
		refunder:   p.Refunder,
		events:     p.Events,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleCallback records the delivery and applies it to the matching pending
// payment. A nil error means the gateway may stop retrying.
func (s *Service) HandleCallback(ctx context.Context, provider string, payload []byte) (*paymentdomain.CallbackResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidCallback
	}

	cb, err := s.adapters.ParseCallback(provider, payload)
	if err != nil {
		return nil, err
	}

	record := paymentdomain.CallbackRecord{
		ID:                s.genID.Generate(),
		Provider:          provider,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		Payload:           datatypes.JSON(payload),
		ReceivedAt:        s.clock.Now().UTC(),
	}
	if err := s.repo.InsertCallback(ctx, s.db, &record); err != nil {
		return nil, fmt.Errorf("record callback: %w", err)
	}

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeGateway), provider)
	result, err := s.reconcile(ctx, cb)
	if err != nil && !errors.Is(err, paymentdomain.ErrStockUnavailable) {
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "error")
		return nil, err
	}

	s.obsMetrics.RecordPaymentCallback(ctx, provider, result.Outcome)
	if markErr := s.repo.MarkCallbackProcessed(ctx, s.db, record.ID, result.Outcome, s.clock.Now().UTC()); markErr != nil {
		logger.WithContext(ctx, s.log).Warn("mark callback processed failed",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(markErr),
		)
	}
	return result, err
}

func (s *Service) reconcile(ctx context.Context, cb *paymentdomain.Callback) (*paymentdomain.CallbackResult, error) {
	result := &paymentdomain.CallbackResult{CheckoutRequestID: cb.CheckoutRequestID}

	payment, err := s.repo.FindByCheckoutID(ctx, s.db, cb.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		logger.WithContext(ctx, s.log).Warn("callback for unknown checkout request",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Int("result_code", cb.ResultCode),
		)
		result.Outcome = paymentdomain.CallbackOutcomeUnknown
		return result, nil
	}

	ctx = obscontext.WithTenantID(ctx, payment.TenantID)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("pending_payment_id", payment.ID.String()),
		zap.String("checkout_request_id", payment.CheckoutRequestID),
	)
	result.PendingPaymentID = &payment.ID
	result.SaleID = payment.SaleID

	if payment.Status.Terminal() {
		if payment.Status == paymentdomain.StatusSuccess && payment.SaleID == nil && cb.Succeeded() {
			log.Info("retrying sale commit for confirmed payment")
			return s.commitSale(ctx, log, payment, cb.Confirmation, result)
		}
		log.Info("duplicate callback ignored",
			zap.String("status", string(payment.Status)),
			zap.Int("result_code", cb.ResultCode),
		)
		result.Outcome = paymentdomain.CallbackOutcomeDuplicate
		return result, nil
	}

	resultCode := cb.ResultCode
	now := s.clock.Now().UTC()

	if !cb.Succeeded() {
		to := cb.Outcome.StatusFor()
		if to == paymentdomain.StatusSuccess {
			to = paymentdomain.StatusFailed
		}
		ok, err := s.repo.Transition(ctx, s.db, payment.ID, paymentdomain.Transition{
			From:       paymentdomain.StatusPending,
			To:         to,
			ResultCode: &resultCode,
			Message:    cb.ResultDesc,
			At:         now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Info("callback lost the status race; ignored")
			result.Outcome = paymentdomain.CallbackOutcomeDuplicate
			return result, nil
		}

		log.Info("payment not completed", zap.String("status", string(to)), zap.Int("result_code", resultCode))
		payment.Status = to
		payment.Message = cb.ResultDesc
		s.publish(*payment)

		result.Outcome = paymentdomain.CallbackOutcomeFailed
		if to == paymentdomain.StatusCancelled {
			result.Outcome = paymentdomain.CallbackOutcomeCancelled
		}
		return result, nil
	}

	receipt := strings.TrimSpace(cb.Confirmation.ReceiptNumber)
	var receiptPtr *string
	if receipt != "" {
		receiptPtr = &receipt
	}
	ok, err := s.repo.Transition(ctx, s.db, payment.ID, paymentdomain.Transition{
		From:          paymentdomain.StatusPending,
		To:            paymentdomain.StatusSuccess,
		ReceiptNumber: receiptPtr,
		ResultCode:    &resultCode,
		Message:       cb.ResultDesc,
		At:            now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("success callback lost the status race; ignored")
		result.Outcome = paymentdomain.CallbackOutcomeDuplicate
		return result, nil
	}

	payment.Status = paymentdomain.StatusSuccess
	payment.ReceiptNumber = receiptPtr
	payment.Message = cb.ResultDesc
	return s.commitSale(ctx, log, payment, cb.Confirmation, result)
}

// commitSale turns a confirmed payment into a sale. Stock that ran out while
// the customer was paying moves the payment to stock_unavailable and opens a
// reconciliation item; any other failure is returned so the gateway retries.
func (s *Service) commitSale(
	ctx context.Context,
	log *zap.Logger,
	payment *paymentdomain.PendingPayment,
	confirmation *paymentdomain.Confirmation,
	result *paymentdomain.CallbackResult,
) (*paymentdomain.CallbackResult, error) {
	snapshot, err := paymentdomain.DecodeSnapshot(payment.CartSnapshot)
	if err != nil {
		log.Error("cart snapshot unreadable", zap.Error(err))
		return s.compensate(ctx, log, payment, paymentdomain.ReasonSnapshotUnreadable, err, result)
	}

	amount := decimal.NewFromInt(payment.Amount)
	if confirmation != nil && confirmation.Amount.IsPositive() {
		amount = confirmation.Amount
	}

	userID := snapshot.UserID
	if userID == "" && payment.UserID != nil {
		userID = *payment.UserID
	}

	req := saledomain.CommitRequest{
		TenantID:         payment.TenantID,
		UserID:           userID,
		IdempotencyKey:   IdempotencyKeyPrefix + payment.ID.String(),
		BranchID:         snapshot.BranchID,
		Items:            snapshot.Items,
		PaymentMethod:    saledomain.PaymentMethodMpesa,
		AmountReceived:   &amount,
		CustomerName:     snapshot.CustomerName,
		CustomerPhone:    snapshot.CustomerPhone,
		PendingPaymentID: &payment.ID,
	}
	if snapshot.Discount != nil {
		req.Discount = *snapshot.Discount
	}
	if payment.ReceiptNumber != nil {
		req.MpesaReceipt = *payment.ReceiptNumber
	}

	receipt, err := s.saleSvc.Commit(ctx, req)
	if err != nil {
		if errors.Is(err, saledomain.ErrInsufficientStock) || errors.Is(err, saledomain.ErrProductNotFound) {
			return s.compensate(ctx, log, payment, paymentdomain.ReasonStockUnavailable, err, result)
		}
		log.Error("sale commit for confirmed payment failed", zap.Error(err))
		return nil, fmt.Errorf("commit sale for payment %s: %w", payment.ID, err)
	}

	linked, err := s.repo.LinkSale(ctx, s.db, payment.ID, receipt.SaleID, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("link sale to payment %s: %w", payment.ID, err)
	}
	if !linked {
		return s.linkMissed(ctx, log, payment.ID, receipt.SaleID, result)
	}

	log.Info("sale committed from confirmed payment", zap.String("sale_id", receipt.SaleID.String()))
	payment.SaleID = &receipt.SaleID
	s.publish(*payment)

	result.SaleID = &receipt.SaleID
	result.Outcome = paymentdomain.CallbackOutcomeSaleCommitted
	return result, nil
}

// linkMissed reports the stored state of a payment whose sale link did not
// apply because another delivery already moved or linked it.
func (s *Service) linkMissed(
	ctx context.Context,
	log *zap.Logger,
	paymentID snowflake.ID,
	saleID snowflake.ID,
	result *paymentdomain.CallbackResult,
) (*paymentdomain.CallbackResult, error) {
	current, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, fmt.Errorf("reload payment %s: %w", paymentID, err)
	}
	result.Outcome = paymentdomain.CallbackOutcomeDuplicate
	if current == nil {
		return result, nil
	}
	result.SaleID = current.SaleID
	if current.SaleID != nil && *current.SaleID == saleID {
		log.Info("sale already linked by another delivery", zap.String("sale_id", saleID.String()))
		return result, nil
	}
	fields := []zap.Field{
		zap.String("status", string(current.Status)),
		zap.String("sale_id", saleID.String()),
	}
	if current.SaleID != nil {
		fields = append(fields, zap.String("linked_sale_id", current.SaleID.String()))
	}
	log.Warn("sale committed but payment could not be linked", fields...)
	return result, nil
}

// adoptSale links a sale committed by a concurrent delivery of the same
// payment and reports the delivery as a duplicate.
func (s *Service) adoptSale(
	ctx context.Context,
	log *zap.Logger,
	payment *paymentdomain.PendingPayment,
	saleID snowflake.ID,
	result *paymentdomain.CallbackResult,
) (*paymentdomain.CallbackResult, error) {
	linked, err := s.repo.LinkSale(ctx, s.db, payment.ID, saleID, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("link sale to payment %s: %w", payment.ID, err)
	}
	if !linked {
		return s.linkMissed(ctx, log, payment.ID, saleID, result)
	}
	log.Info("sale committed by another delivery; linked", zap.String("sale_id", saleID.String()))
	payment.SaleID = &saleID
	s.publish(*payment)

	result.SaleID = &saleID
	result.Outcome = paymentdomain.CallbackOutcomeDuplicate
	return result, nil
}

func (s *Service) compensate(
	ctx context.Context,
	log *zap.Logger,
	payment *paymentdomain.PendingPayment,
	reason string,
	cause error,
	result *paymentdomain.CallbackResult,
) (*paymentdomain.CallbackResult, error) {
	now := s.clock.Now().UTC()
	item := paymentdomain.ReconciliationItem{
		ID:                s.genID.Generate(),
		TenantID:          payment.TenantID,
		PendingPaymentID:  payment.ID,
		CheckoutRequestID: payment.CheckoutRequestID,
		Amount:            payment.Amount,
		ReceiptNumber:     payment.ReceiptNumber,
		PhoneNumber:       payment.PhoneNumber,
		Reason:            reason,
		Status:            paymentdomain.ReconciliationOpen,
		CreatedAt:         now,
	}

	var moved bool
	var existing *saledomain.Sale
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A sale for this payment means another delivery won the commit.
		if s.saleRepo != nil {
			sale, err := s.saleRepo.FindByPendingPaymentID(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			if sale != nil {
				existing = sale
				return nil
			}
		}
		ok, err := s.repo.Transition(ctx, tx, payment.ID, paymentdomain.Transition{
			From:     paymentdomain.StatusSuccess,
			To:       paymentdomain.StatusStockUnavailable,
			Message:  stockUnavailableMessage,
			At:       now,
			Unlinked: true,
		})
		if err != nil || !ok {
			return err
		}
		moved = true
		_, err = s.repo.InsertReconciliationItem(ctx, tx, &item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compensate payment %s: %w", payment.ID, err)
	}
	if existing != nil {
		return s.adoptSale(ctx, log, payment, existing.ID, result)
	}
	if !moved {
		log.Info("payment already compensated")
		result.Outcome = paymentdomain.CallbackOutcomeDuplicate
		return result, nil
	}

	log.Warn("confirmed payment could not become a sale",
		zap.String("reason", reason),
		zap.Int64("amount", payment.Amount),
		zap.Error(cause),
	)
	s.obsMetrics.RecordReconciliationItem(ctx, payment.TenantID, reason)

	if s.auditSvc != nil {
		err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
			TenantID:   payment.TenantID,
			Action:     "payment.stock_unavailable",
			TargetType: "pending_payment",
			TargetID:   payment.ID.String(),
			Metadata: map[string]any{
				"checkout_request_id": payment.CheckoutRequestID,
				"reconciliation_id":   item.ID.String(),
				"amount":              payment.Amount,
				"phone_number":        payment.PhoneNumber,
				"reason":              reason,
				"error":               cause.Error(),
			},
		})
		if err != nil {
			log.Warn("audit stock_unavailable failed", zap.Error(err))
		}
	}

	if s.refunder != nil {
		if err := s.refunder.RequestRefund(ctx, item); err != nil {
			log.Warn("refund request failed",
				zap.String("reconciliation_id", item.ID.String()),
				zap.String("phone", masking.MaskPhone(item.PhoneNumber)),
				zap.Error(err),
			)
		}
	}

	payment.Status = paymentdomain.StatusStockUnavailable
	payment.Message = stockUnavailableMessage
	s.publish(*payment)

	result.Outcome = paymentdomain.CallbackOutcomeStockUnavailable
	return result, fmt.Errorf("%w: %v", paymentdomain.ErrStockUnavailable, cause)
}

// RepairUnlinked retries sales for confirmed payments whose commit failed
// and whose gateway has stopped redelivering.
func (s *Service) RepairUnlinked(ctx context.Context, limit int) (*paymentdomain.SweepResult, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.clock.Now().UTC().Add(-repairGrace)
	payments, err := s.repo.ListUnlinkedSuccess(ctx, s.db, cutoff, limit)
	if err != nil {
		return nil, err
	}

	sweep := &paymentdomain.SweepResult{Scanned: len(payments)}
	for i := range payments {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		payment := &payments[i]
		pctx := obscontext.WithTenantID(obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "sale-repair"), payment.TenantID)
		log := logger.WithContext(pctx, s.log).With(zap.String("pending_payment_id", payment.ID.String()))

		result := &paymentdomain.CallbackResult{CheckoutRequestID: payment.CheckoutRequestID, PendingPaymentID: &payment.ID}
		if _, err := s.commitSale(pctx, log, payment, nil, result); err != nil {
			if errors.Is(err, paymentdomain.ErrStockUnavailable) {
				sweep.Updated++
				continue
			}
			log.Warn("sale repair failed", zap.Error(err))
			sweep.Skipped++
			continue
		}
		sweep.Updated++
	}
	return sweep, nil
}

func (s *Service) publish(payment paymentdomain.PendingPayment) {
	data := map[string]any{
		"pendingPaymentId":  payment.ID.String(),
		"checkoutRequestId": payment.CheckoutRequestID,
		"status":            string(payment.Status),
		"message":           payment.Message,
	}
	if payment.SaleID != nil {
		data["saleId"] = payment.SaleID.String()
	}
	s.events.Publish(payment.TenantID, realtime.EventPaymentUpdated, data)
}
