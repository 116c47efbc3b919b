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
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/observability/logger"
	"github.com/smallbiznis/tillpoint/internal/observability/metrics"
	productdomain "github.com/smallbiznis/tillpoint/internal/product/domain"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"github.com/smallbiznis/tillpoint/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        saledomain.Repository
	ProductRepo productdomain.Repository
	Commerce    *config.CommerceConfigHolder

	AuditSvc   auditdomain.Service `optional:"true"`
	Events     *realtime.Hub       `optional:"true"`
	ObsMetrics *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        saledomain.Repository
	productRepo productdomain.Repository
	commerce    *config.CommerceConfigHolder

	auditSvc   auditdomain.Service
	events     *realtime.Hub
	obsMetrics *metrics.Metrics
}

func NewService(p Params) saledomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("sale.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		productRepo: p.ProductRepo,
		commerce:    p.Commerce,
		auditSvc:    p.AuditSvc,
		events:      p.Events,
		obsMetrics:  p.ObsMetrics,
	}
}

var errKeyTaken = errors.New("idempotency key taken by concurrent commit")

// pricedLine is one merged cart line with its product snapshot.
type pricedLine struct {
	product  productdomain.Product
	quantity int
	total    decimal.Decimal
}

func (s *Service) Commit(ctx context.Context, req saledomain.CommitRequest) (*saledomain.Receipt, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if req.IdempotencyKey == "" {
		return nil, saledomain.ErrIdempotencyKeyRequired
	}
	if req.TenantID == "" {
		return nil, saledomain.ErrInvalidTenant
	}
	if req.UserID == "" {
		return nil, saledomain.ErrInvalidUser
	}

	if receipt, err := s.replay(ctx, req); err != nil || receipt != nil {
		return receipt, err
	}

	if !req.PaymentMethod.Valid() {
		return nil, saledomain.ErrInvalidPaymentMethod
	}

	merged, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, req.TenantID, merged)
	if err != nil {
		return s.failCommit(ctx, req, err)
	}

	sale, items, err := s.buildSale(ctx, req, lines)
	if err != nil {
		return nil, err
	}

	// The sale row goes in first so the (user_id, idempotency_key) index
	// serializes same-key callers before any stock is touched.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &sale); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errKeyTaken
			}
			return fmt.Errorf("insert sale: %w", err)
		}
		for _, line := range lines {
			ok, err := s.productRepo.DecrementStock(ctx, tx, req.TenantID, line.product.ID, line.quantity, sale.CreatedAt)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if !ok {
				return s.stockConflict(ctx, tx, req.TenantID, line)
			}
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return fmt.Errorf("insert sale items: %w", err)
		}
		return nil
	})
	if errors.Is(err, errKeyTaken) {
		// Lost the race for this key; everything above was rolled back.
		receipt, replayErr := s.replay(ctx, req)
		if replayErr != nil {
			return nil, replayErr
		}
		if receipt == nil {
			return nil, fmt.Errorf("sale for idempotency key vanished after conflict")
		}
		return receipt, nil
	}
	if err != nil {
		return s.failCommit(ctx, req, err)
	}

	receipt := saledomain.NewReceipt(sale, items)
	s.afterCommit(ctx, sale, lines)
	return &receipt, nil
}

// failCommit returns the receipt of a same-key commit that landed while this
// one was running, and err otherwise.
func (s *Service) failCommit(ctx context.Context, req saledomain.CommitRequest, err error) (*saledomain.Receipt, error) {
	if errors.Is(err, saledomain.ErrInsufficientStock) || errors.Is(err, saledomain.ErrProductNotFound) {
		receipt, replayErr := s.replay(ctx, req)
		if replayErr != nil {
			return nil, replayErr
		}
		if receipt != nil {
			return receipt, nil
		}
	}
	if errors.Is(err, saledomain.ErrInsufficientStock) {
		s.obsMetrics.RecordStockConflict(ctx, req.TenantID)
	}
	return nil, err
}

func (s *Service) GetReceipt(ctx context.Context, tenantID string, saleID snowflake.ID) (*saledomain.Receipt, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, saledomain.ErrInvalidTenant
	}
	sale, err := s.repo.FindByID(ctx, s.db, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, saledomain.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, sale.ID)
	if err != nil {
		return nil, err
	}
	receipt := saledomain.NewReceipt(*sale, items)
	return &receipt, nil
}

func (s *Service) replay(ctx context.Context, req saledomain.CommitRequest) (*saledomain.Receipt, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.TenantID != req.TenantID {
		return nil, saledomain.ErrIdempotencyKeyConflict
	}

	items, err := s.repo.ListItems(ctx, s.db, existing.ID)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordIdempotentReplay(ctx, req.TenantID)
	logger.WithContext(ctx, s.log).Info("idempotent sale replay",
		zap.String("sale_id", existing.ID.String()),
	)

	receipt := saledomain.NewReceipt(*existing, items)
	receipt.Replayed = true
	return &receipt, nil
}

func mergeLines(items []saledomain.CartLine) ([]saledomain.CartLine, error) {
	if len(items) == 0 {
		return nil, saledomain.ErrEmptyCart
	}
	index := make(map[snowflake.ID]int, len(items))
	merged := make([]saledomain.CartLine, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, saledomain.ErrInvalidQuantity
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func (s *Service) priceLines(ctx context.Context, tenantID string, merged []saledomain.CartLine) ([]pricedLine, error) {
	ids := make([]snowflake.ID, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}

	products, err := s.productRepo.FindByIDs(ctx, s.db, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]productdomain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]pricedLine, 0, len(merged))
	for _, line := range merged {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, &saledomain.ProductNotFoundError{ProductID: line.ProductID}
		}
		if product.Stock < line.Quantity {
			return nil, &saledomain.InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: line.Quantity,
			}
		}
		lines = append(lines, pricedLine{
			product:  product,
			quantity: line.Quantity,
			total:    product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
		})
	}
	return lines, nil
}

func (s *Service) buildSale(ctx context.Context, req saledomain.CommitRequest, lines []pricedLine) (saledomain.Sale, []saledomain.SaleItem, error) {
	policy := s.commerce.Get()

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.total)
	}

	discount := req.Discount.Round(2)
	if discount.IsNegative() {
		return saledomain.Sale{}, nil, saledomain.ErrInvalidDiscount
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	taxable := subtotal.Sub(discount)
	vat := taxable.Mul(policy.TaxRate).Round(2)
	total := taxable.Add(vat)

	received := total
	if req.AmountReceived != nil {
		received = req.AmountReceived.Round(2)
	} else if req.PaymentMethod == saledomain.PaymentMethodCash {
		return saledomain.Sale{}, nil, saledomain.ErrInsufficientPayment
	}
	if req.PaymentMethod == saledomain.PaymentMethodCash && received.LessThan(total) {
		return saledomain.Sale{}, nil, saledomain.ErrInsufficientPayment
	}
	change := received.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}

	branchID, err := s.resolveBranch(ctx, req.TenantID, req.BranchID)
	if err != nil {
		return saledomain.Sale{}, nil, err
	}

	sale := saledomain.Sale{
		ID:               s.genID.Generate(),
		TenantID:         req.TenantID,
		BranchID:         branchID,
		UserID:           req.UserID,
		IdempotencyKey:   req.IdempotencyKey,
		Subtotal:         subtotal,
		Discount:         discount,
		VatAmount:        vat,
		Total:            total,
		PaymentMethod:    req.PaymentMethod,
		AmountReceived:   received,
		ChangeAmount:     change,
		CustomerName:     optional(req.CustomerName),
		CustomerPhone:    optional(req.CustomerPhone),
		PendingPaymentID: req.PendingPaymentID,
		MpesaReceipt:     optional(req.MpesaReceipt),
		CreatedAt:        s.clock.Now().UTC().Truncate(time.Microsecond),
	}

	items := make([]saledomain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, saledomain.SaleItem{
			ID:        s.genID.Generate(),
			SaleID:    sale.ID,
			ProductID: line.product.ID,
			Name:      line.product.Name,
			Quantity:  line.quantity,
			UnitPrice: line.product.Price,
			LineTotal: line.total,
		})
	}
	return sale, items, nil
}

// resolveBranch drops branch ids that are unknown or belong to another tenant.
func (s *Service) resolveBranch(ctx context.Context, tenantID string, branchID *snowflake.ID) (*snowflake.ID, error) {
	if branchID == nil || *branchID == 0 {
		return nil, nil
	}
	ok, err := s.repo.BranchExists(ctx, s.db, tenantID, *branchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.WithContext(ctx, s.log).Warn("ignoring unknown branch on sale",
			zap.String("branch_id", branchID.String()),
		)
		return nil, nil
	}
	return branchID, nil
}

// stockConflict reports a decrement that lost to a concurrent sale.
func (s *Service) stockConflict(ctx context.Context, tx *gorm.DB, tenantID string, line pricedLine) error {
	fresh, err := s.productRepo.FindByIDs(ctx, tx, tenantID, []snowflake.ID{line.product.ID})
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return &saledomain.ProductNotFoundError{ProductID: line.product.ID}
	}
	return &saledomain.InsufficientStockError{
		ProductID: line.product.ID,
		Name:      line.product.Name,
		Available: fresh[0].Stock,
		Requested: line.quantity,
	}
}

func (s *Service) afterCommit(ctx context.Context, sale saledomain.Sale, lines []pricedLine) {
	log := logger.WithContext(ctx, s.log)
	log.Info("sale committed",
		zap.String("sale_id", sale.ID.String()),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.String("total", sale.Total.StringFixed(2)),
	)
	s.obsMetrics.RecordSaleCommitted(ctx, sale.TenantID, string(sale.PaymentMethod))

	if s.auditSvc != nil {
		metadata := map[string]any{
			"total":          sale.Total.StringFixed(2),
			"payment_method": string(sale.PaymentMethod),
			"items":          len(lines),
		}
		if sale.PendingPaymentID != nil {
			metadata["pending_payment_id"] = sale.PendingPaymentID.String()
		}
		if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
			TenantID:   sale.TenantID,
			ActorType:  auditdomain.ActorTypeUser,
			ActorID:    sale.UserID,
			Action:     "sale.created",
			TargetType: "sale",
			TargetID:   sale.ID.String(),
			Metadata:   metadata,
		}); err != nil {
			log.Warn("sale audit failed", zap.String("sale_id", sale.ID.String()), zap.Error(err))
		}
	}

	s.events.Publish(sale.TenantID, realtime.EventSaleCreated, map[string]any{
		"saleId":        sale.ID.String(),
		"total":         sale.Total.StringFixed(2),
		"paymentMethod": string(sale.PaymentMethod),
	})
	for _, line := range lines {
		s.events.Publish(sale.TenantID, realtime.EventInventoryUpdated, map[string]any{
			"productId": line.product.ID.String(),
			"sold":      line.quantity,
		})
	}
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
