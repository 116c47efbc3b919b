package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/audit/masking"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/observability/logger"
	"github.com/smallbiznis/tillpoint/internal/observability/metrics"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/mpesa"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	paymentproviderdomain "github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	timeoutMessage        = "timed out awaiting gateway callback"
	reconciliationListMax = 200
	transactionDesc       = "POS Payment"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	Commerce *config.CommerceConfigHolder
	Cfg      config.Config

	Providers  paymentproviderdomain.Service `optional:"true"`
	Limiter    *ratelimit.PaymentLimiter     `optional:"true"`
	AuditSvc   auditdomain.Service           `optional:"true"`
	Events     *realtime.Hub                 `optional:"true"`
	ObsMetrics *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	commerce *config.CommerceConfigHolder
	fallback config.MpesaConfig

	providers  paymentproviderdomain.Service
	limiter    *ratelimit.PaymentLimiter
	auditSvc   auditdomain.Service
	events     *realtime.Hub
	obsMetrics *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		adapters:   p.Adapters,
		commerce:   p.Commerce,
		fallback:   p.Cfg.Mpesa,
		providers:  p.Providers,
		limiter:    p.Limiter,
		auditSvc:   p.AuditSvc,
		events:     p.Events,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	userID := strings.TrimSpace(req.UserID)
	if tenantID == "" {
		return nil, paymentdomain.ErrInvalidTenant
	}
	if userID == "" {
		return nil, paymentdomain.ErrInvalidUser
	}

	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	policy := s.commerce.Get()
	amount := req.Amount.Floor()
	if amount.LessThan(decimal.NewFromInt(policy.MinPaymentAmount)) {
		return nil, paymentdomain.ErrInvalidAmount
	}

	snapshot := paymentdomain.CartSnapshot{
		TenantID:      tenantID,
		UserID:        userID,
		BranchID:      req.Cart.BranchID,
		Items:         req.Cart.Items,
		CustomerName:  strings.TrimSpace(req.Cart.CustomerName),
		CustomerPhone: strings.TrimSpace(req.Cart.CustomerPhone),
		Discount:      req.Cart.Discount,
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	encoded, err := paymentdomain.EncodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("phone", masking.MaskPhone(phone)))

	if s.limiter.Enabled() {
		res, err := s.limiter.AllowInitiate(ctx, tenantID, phone)
		if err != nil {
			log.Warn("payment initiate rate limit check failed", zap.Error(err))
			return nil, paymentdomain.ErrRateLimiterUnavailable
		}
		if !res.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, "payments.initiate", "phone-rate")
			s.obsMetrics.RecordPaymentInitiated(ctx, mpesa.Provider, "rate_limited")
			return nil, paymentdomain.ErrRateLimited
		}
	}

	gwConfig, err := s.gatewayConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	gateway, err := s.adapters.NewAdapter(mpesa.Provider, paymentdomain.AdapterConfig{
		TenantID: tenantID,
		Provider: mpesa.Provider,
		Config:   gwConfig,
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidConfig) {
			return nil, paymentdomain.ErrProviderNotConfigured
		}
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, policy.GatewayTimeout)
	defer cancel()

	pushed, err := gateway.STKPush(callCtx, paymentdomain.STKPushRequest{
		PhoneNumber:      phone,
		Amount:           amount.IntPart(),
		AccountReference: tenantID,
		Description:      transactionDesc,
	})
	if err != nil {
		var gwErr *paymentdomain.GatewayError
		if !errors.As(err, &gwErr) {
			err = &paymentdomain.GatewayError{Provider: mpesa.Provider, Retryable: true, Err: err}
		}
		log.Warn("stk push failed", zap.Error(err))
		s.obsMetrics.RecordPaymentInitiated(ctx, mpesa.Provider, "gateway_error")
		return nil, err
	}

	now := s.clock.Now().UTC()
	payment := paymentdomain.PendingPayment{
		ID:                s.genID.Generate(),
		TenantID:          tenantID,
		UserID:            &userID,
		Provider:          mpesa.Provider,
		PhoneNumber:       phone,
		Amount:            amount.IntPart(),
		MerchantRequestID: pushed.MerchantRequestID,
		CheckoutRequestID: pushed.CheckoutRequestID,
		Status:            paymentdomain.StatusPending,
		Message:           pushed.ResponseDescription,
		CartSnapshot:      encoded,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		log.Error("stk push accepted but pending payment was not recorded",
			zap.String("checkout_request_id", pushed.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	log.Info("stk push accepted",
		zap.String("pending_payment_id", payment.ID.String()),
		zap.String("checkout_request_id", payment.CheckoutRequestID),
		zap.Int64("amount", payment.Amount),
	)
	s.obsMetrics.RecordPaymentInitiated(ctx, mpesa.Provider, "accepted")
	s.audit(ctx, auditdomain.Entry{
		TenantID:   tenantID,
		Action:     "payment.initiated",
		TargetType: "pending_payment",
		TargetID:   payment.ID.String(),
		Metadata: map[string]any{
			"checkout_request_id": payment.CheckoutRequestID,
			"amount":              payment.Amount,
			"phone_number":        phone,
		},
	})
	s.publish(payment)

	return &paymentdomain.InitiateResult{
		PendingPaymentID:  payment.ID,
		CheckoutRequestID: payment.CheckoutRequestID,
		MerchantRequestID: payment.MerchantRequestID,
		Status:            payment.Status,
		CustomerMessage:   pushed.CustomerMessage,
	}, nil
}

// gatewayConfig prefers the tenant's own credentials and falls back to the
// deployment-wide account.
func (s *Service) gatewayConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	if s.providers != nil {
		cfg, err := s.providers.ActiveConfig(ctx, tenantID, mpesa.Provider)
		switch {
		case err == nil:
			if _, ok := cfg["callbackUrl"]; !ok && s.fallback.CallbackURL != "" {
				cfg["callbackUrl"] = s.fallback.CallbackURL
			}
			if _, ok := cfg["baseUrl"]; !ok && s.fallback.BaseURL != "" {
				cfg["baseUrl"] = s.fallback.BaseURL
			}
			return cfg, nil
		case errors.Is(err, paymentproviderdomain.ErrNotFound), errors.Is(err, paymentproviderdomain.ErrEncryptionKeyMissing):
		default:
			return nil, err
		}
	}

	if !s.fallback.Configured() {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	cfg := map[string]any{
		"consumerKey":    s.fallback.ConsumerKey,
		"consumerSecret": s.fallback.ConsumerSecret,
		"shortCode":      s.fallback.ShortCode,
		"passkey":        s.fallback.Passkey,
		"callbackUrl":    s.fallback.CallbackURL,
		"environment":    s.fallback.Environment,
	}
	if s.fallback.BaseURL != "" {
		cfg["baseUrl"] = s.fallback.BaseURL
	}
	return cfg, nil
}

func (s *Service) GetByCheckoutID(ctx context.Context, tenantID, checkoutRequestID string) (*paymentdomain.StatusView, error) {
	tenantID = strings.TrimSpace(tenantID)
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if tenantID == "" {
		return nil, paymentdomain.ErrInvalidTenant
	}
	if checkoutRequestID == "" {
		return nil, paymentdomain.ErrNotFound
	}

	payment, err := s.repo.FindByCheckoutID(ctx, s.db, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.TenantID != tenantID {
		return nil, paymentdomain.ErrNotFound
	}

	return &paymentdomain.StatusView{
		ID:                payment.ID,
		CheckoutRequestID: payment.CheckoutRequestID,
		MerchantRequestID: payment.MerchantRequestID,
		Status:            payment.Status,
		Amount:            payment.Amount,
		PhoneNumber:       masking.MaskPhone(payment.PhoneNumber),
		ReceiptNumber:     payment.ReceiptNumber,
		ResultCode:        payment.ResultCode,
		Message:           payment.Message,
		SaleID:            payment.SaleID,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
		ResolvedAt:        payment.ResolvedAt,
	}, nil
}

func (s *Service) ExpireStale(ctx context.Context, limit int) (*paymentdomain.SweepResult, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.commerce.Get().PendingTimeout)

	stale, err := s.repo.ListStale(ctx, s.db, cutoff, limit)
	if err != nil {
		return nil, err
	}

	result := &paymentdomain.SweepResult{Scanned: len(stale)}
	for _, payment := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ok, err := s.repo.Transition(ctx, s.db, payment.ID, paymentdomain.Transition{
			From:    paymentdomain.StatusPending,
			To:      paymentdomain.StatusTimeout,
			Message: timeoutMessage,
			At:      now,
		})
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Updated++

		payment.Status = paymentdomain.StatusTimeout
		payment.Message = timeoutMessage
		s.audit(ctx, auditdomain.Entry{
			TenantID:   payment.TenantID,
			ActorType:  auditdomain.ActorTypeSystem,
			ActorID:    "sweeper",
			Action:     "payment.timeout",
			TargetType: "pending_payment",
			TargetID:   payment.ID.String(),
			Metadata: map[string]any{
				"checkout_request_id": payment.CheckoutRequestID,
				"age_seconds":         int64(now.Sub(payment.CreatedAt) / time.Second),
			},
		})
		s.publish(payment)
	}
	return result, nil
}

func (s *Service) ListReconciliation(ctx context.Context, tenantID string, status paymentdomain.ReconciliationStatus) ([]paymentdomain.ReconciliationItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, paymentdomain.ErrInvalidTenant
	}
	switch status {
	case "", paymentdomain.ReconciliationOpen, paymentdomain.ReconciliationResolved:
	default:
		return nil, paymentdomain.ErrNotFound
	}

	items, err := s.repo.ListReconciliationItems(ctx, s.db, tenantID, status, reconciliationListMax)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].PhoneNumber = masking.MaskPhone(items[i].PhoneNumber)
	}
	return items, nil
}

func (s *Service) ResolveReconciliation(ctx context.Context, tenantID string, id snowflake.ID, note string) (*paymentdomain.ReconciliationItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	note = strings.TrimSpace(note)
	if tenantID == "" {
		return nil, paymentdomain.ErrInvalidTenant
	}
	if note == "" {
		return nil, paymentdomain.ErrResolutionNoteRequired
	}

	item, err := s.repo.FindReconciliationItem(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, paymentdomain.ErrNotFound
	}
	if item.Status == paymentdomain.ReconciliationResolved {
		return nil, paymentdomain.ErrAlreadyResolved
	}

	now := s.clock.Now().UTC()
	ok, err := s.repo.ResolveReconciliationItem(ctx, s.db, tenantID, id, note, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, paymentdomain.ErrAlreadyResolved
	}

	item.Status = paymentdomain.ReconciliationResolved
	item.ResolutionNote = &note
	item.ResolvedAt = &now
	item.PhoneNumber = masking.MaskPhone(item.PhoneNumber)

	s.audit(ctx, auditdomain.Entry{
		TenantID:   tenantID,
		Action:     "payment.reconciliation_resolved",
		TargetType: "payment_reconciliation_item",
		TargetID:   id.String(),
		Metadata: map[string]any{
			"pending_payment_id": item.PendingPaymentID.String(),
			"note":               note,
		},
	})
	return item, nil
}

func (s *Service) audit(ctx context.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, entry); err != nil {
		logger.WithContext(ctx, s.log).Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Service) publish(payment paymentdomain.PendingPayment) {
	s.events.Publish(payment.TenantID, realtime.EventPaymentUpdated, map[string]any{
		"pendingPaymentId":  payment.ID.String(),
		"checkoutRequestId": payment.CheckoutRequestID,
		"status":            string(payment.Status),
		"message":           payment.Message,
	})
}
