package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/mpesa"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tillpoint/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tillpoint/internal/payment/service"
	productrepo "github.com/smallbiznis/tillpoint/internal/product/repository"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	salerepo "github.com/smallbiznis/tillpoint/internal/sale/repository"
	saleservice "github.com/smallbiznis/tillpoint/internal/sale/service"
	"github.com/smallbiznis/tillpoint/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenantA = "tenant-a"

type recordingRefunder struct {
	mu    sync.Mutex
	items []paymentdomain.ReconciliationItem
}

func (r *recordingRefunder) RequestRefund(ctx context.Context, item paymentdomain.ReconciliationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

// commitGate holds the first n commits until all n have arrived.
type commitGate struct {
	wg    sync.WaitGroup
	calls atomic.Int32
	n     int32
}

func newCommitGate(n int) *commitGate {
	g := &commitGate{n: int32(n)}
	g.wg.Add(n)
	return g
}

func (g *commitGate) pass() {
	if g.calls.Add(1) <= g.n {
		g.wg.Done()
		g.wg.Wait()
	}
}

// flakySales fails the first n commits before delegating.
type flakySales struct {
	saledomain.Service
	mu    sync.Mutex
	fails int
	gate  *commitGate
}

func (f *flakySales) Commit(ctx context.Context, req saledomain.CommitRequest) (*saledomain.Receipt, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		gate.pass()
	}
	return f.Service.Commit(ctx, req)
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	repo     paymentdomain.Repository
	sales    *flakySales
	refunder *recordingRefunder
	svc      paymentdomain.WebhookService
	payments paymentdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	commerce := config.NewStaticCommerceConfig(config.DefaultCommerceConfig())
	repo := paymentrepo.Provide()
	registry := adapters.NewRegistry(mpesa.NewFactory(nil, nil))

	sales := &flakySales{Service: saleservice.NewService(saleservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fc,
		Repo:        salerepo.Provide(),
		ProductRepo: productrepo.Provide(),
		Commerce:    commerce,
	})}
	refunder := &recordingRefunder{}

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fc,
		Repo:     repo,
		Adapters: registry,
		SaleSvc:  sales,
		SaleRepo: salerepo.Provide(),
		Refunder: refunder,
	})
	payments := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fc,
		Repo:     repo,
		Adapters: registry,
		Commerce: commerce,
	})
	return &fixture{db: db, node: node, clock: fc, repo: repo, sales: sales, refunder: refunder, svc: svc, payments: payments}
}

func (f *fixture) seedPending(t *testing.T, checkoutID string, amount int64, items ...saledomain.CartLine) *paymentdomain.PendingPayment {
	t.Helper()
	snapshot, err := paymentdomain.EncodeSnapshot(paymentdomain.CartSnapshot{
		TenantID:     tenantA,
		UserID:       "cashier-1",
		Items:        items,
		CustomerName: "Wanjiku",
	})
	require.NoError(t, err)

	userID := "cashier-1"
	now := f.clock.Now()
	payment := &paymentdomain.PendingPayment{
		ID:                f.node.Generate(),
		TenantID:          tenantA,
		UserID:            &userID,
		Provider:          mpesa.Provider,
		PhoneNumber:       "254712345678",
		Amount:            amount,
		MerchantRequestID: "m-" + checkoutID,
		CheckoutRequestID: checkoutID,
		Status:            paymentdomain.StatusPending,
		CartSnapshot:      snapshot,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, payment))
	return payment
}

func (f *fixture) reload(t *testing.T, checkoutID string) *paymentdomain.PendingPayment {
	t.Helper()
	payment, err := f.repo.FindByCheckoutID(context.Background(), f.db, checkoutID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return payment
}

func successPayload(checkoutID string, amount int64, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"m-%[1]s",
		"CheckoutRequestID":"%[1]s",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%[2]d},
			{"Name":"MpesaReceiptNumber","Value":"%[3]s"},
			{"Name":"TransactionDate","Value":20260301093012},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`, checkoutID, amount, receipt))
}

func failurePayload(checkoutID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"m-%[1]s",
		"CheckoutRequestID":"%[1]s",
		"ResultCode":%[2]d,
		"ResultDesc":"%[3]s"}}}`, checkoutID, code, desc))
}

func TestSuccessCallbackCommitsSale(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 232, "QKJ7ABC123"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeSaleCommitted, res.Outcome)
	require.NotNil(t, res.SaleID)

	payment := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusSuccess, payment.Status)
	require.NotNil(t, payment.SaleID)
	assert.Equal(t, *res.SaleID, *payment.SaleID)
	require.NotNil(t, payment.ReceiptNumber)
	assert.Equal(t, "QKJ7ABC123", *payment.ReceiptNumber)

	receipt, err := f.sales.GetReceipt(context.Background(), tenantA, *res.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "232", receipt.Total.String())
	assert.Equal(t, saledomain.PaymentMethodMpesa, receipt.PaymentMethod)
	require.NotNil(t, receipt.MpesaReceipt)
	assert.Equal(t, "QKJ7ABC123", *receipt.MpesaReceipt)
	assert.Equal(t, 3, testsupport.Stock(t, f.db, productID))

	assert.Equal(t, int64(1), testsupport.Count(t, f.db, "payment_callbacks"))
}

func TestDuplicateSuccessCallbackIsNoop(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})
	payload := successPayload("ws_CO_1", 232, "QKJ7ABC123")

	first, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.NoError(t, err)

	second, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.SaleID, second.SaleID)

	assert.Equal(t, int64(1), testsupport.Count(t, f.db, "sales"))
	assert.Equal(t, 3, testsupport.Stock(t, f.db, productID))
	assert.Equal(t, int64(2), testsupport.Count(t, f.db, "payment_callbacks"))
}

func TestFailedThenSuccessStaysFailed(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, failurePayload("ws_CO_1", 1, "The balance is insufficient for the transaction."))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeFailed, res.Outcome)

	res, err = f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 232, "QKJ7ABC123"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeDuplicate, res.Outcome)

	payment := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusFailed, payment.Status)
	assert.Equal(t, "The balance is insufficient for the transaction.", payment.Message)
	require.NotNil(t, payment.ResultCode)
	assert.Equal(t, 1, *payment.ResultCode)
	assert.NotNil(t, payment.ResolvedAt)
	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "sales"))
	assert.Equal(t, 5, testsupport.Stock(t, f.db, productID))
}

func TestCancelledCallback(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 100, saledomain.CartLine{ProductID: productID, Quantity: 1})

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, failurePayload("ws_CO_1", paymentdomain.ResultCodeCancelled, "Request cancelled by user"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeCancelled, res.Outcome)
	assert.Equal(t, paymentdomain.StatusCancelled, f.reload(t, "ws_CO_1").Status)
}

func TestStockGoneCompensates(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 1)
	payment := f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})
	payload := successPayload("ws_CO_1", 232, "QKJ7ABC123")

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrStockUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, paymentdomain.CallbackOutcomeStockUnavailable, res.Outcome)

	stored := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusStockUnavailable, stored.Status)
	assert.Equal(t, stockUnavailableMessage, stored.Message)
	assert.Nil(t, stored.SaleID)
	assert.Equal(t, 1, testsupport.Stock(t, f.db, productID))
	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "sales"))

	require.Len(t, f.refunder.items, 1)
	refund := f.refunder.items[0]
	assert.Equal(t, payment.ID, refund.PendingPaymentID)
	assert.Equal(t, int64(232), refund.Amount)
	assert.Equal(t, paymentdomain.ReasonStockUnavailable, refund.Reason)
	require.NotNil(t, refund.ReceiptNumber)
	assert.Equal(t, "QKJ7ABC123", *refund.ReceiptNumber)

	// redelivery neither reopens nor refunds again
	res, err = f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeDuplicate, res.Outcome)
	assert.Len(t, f.refunder.items, 1)
	assert.Equal(t, int64(1), testsupport.Count(t, f.db, "payment_reconciliation_items"))
}

func TestConcurrentSuccessDeliveriesCommitOnce(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 2)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})
	payload := successPayload("ws_CO_1", 232, "QKJ7ABC123")

	// The first delivery parks inside the sale commit after moving the
	// payment to success; the redelivery joins it there.
	f.sales.gate = newCommitGate(2)

	var wg sync.WaitGroup
	results := make([]*paymentdomain.CallbackResult, 2)
	errs := make([]error, 2)
	deliver := func(i int) {
		defer wg.Done()
		results[i], errs[i] = f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	}
	wg.Add(1)
	go deliver(0)
	require.Eventually(t, func() bool {
		p, err := f.repo.FindByCheckoutID(context.Background(), f.db, "ws_CO_1")
		return err == nil && p != nil && p.Status == paymentdomain.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	wg.Add(1)
	go deliver(1)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	outcomes := []string{results[0].Outcome, results[1].Outcome}
	assert.ElementsMatch(t, []string{paymentdomain.CallbackOutcomeSaleCommitted, paymentdomain.CallbackOutcomeDuplicate}, outcomes)

	stored := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusSuccess, stored.Status)
	require.NotNil(t, stored.SaleID)
	for _, res := range results {
		require.NotNil(t, res.SaleID)
		assert.Equal(t, *stored.SaleID, *res.SaleID)
	}
	assert.Equal(t, int64(1), testsupport.Count(t, f.db, "sales"))
	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "payment_reconciliation_items"))
	assert.Empty(t, f.refunder.items)
	assert.Equal(t, 0, testsupport.Stock(t, f.db, productID))
}

func TestStockConflictAdoptsExistingSaleInsteadOfRefunding(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 2)
	payment := f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})

	ok, err := f.repo.Transition(context.Background(), f.db, payment.ID, paymentdomain.Transition{
		From: paymentdomain.StatusPending,
		To:   paymentdomain.StatusSuccess,
		At:   f.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A sale already exists for the payment but was never linked to it.
	amount := decimal.NewFromInt(232)
	sale, err := f.sales.Commit(context.Background(), saledomain.CommitRequest{
		TenantID:         tenantA,
		UserID:           "cashier-1",
		IdempotencyKey:   "till-retry",
		Items:            []saledomain.CartLine{{ProductID: productID, Quantity: 2}},
		PaymentMethod:    saledomain.PaymentMethodMpesa,
		AmountReceived:   &amount,
		PendingPaymentID: &payment.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 0, testsupport.Stock(t, f.db, productID))

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 232, "QKJ7ABC123"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.SaleID)
	assert.Equal(t, sale.SaleID, *res.SaleID)

	stored := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusSuccess, stored.Status)
	require.NotNil(t, stored.SaleID)
	assert.Equal(t, sale.SaleID, *stored.SaleID)
	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "payment_reconciliation_items"))
	assert.Empty(t, f.refunder.items)

	// a linked payment can no longer be moved to stock_unavailable
	ok, err = f.repo.Transition(context.Background(), f.db, payment.ID, paymentdomain.Transition{
		From:     paymentdomain.StatusSuccess,
		To:       paymentdomain.StatusStockUnavailable,
		At:       f.clock.Now(),
		Unlinked: true,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownCheckoutIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_missing", 10, "QKJ7ABC999"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeUnknown, res.Outcome)
	assert.Nil(t, res.PendingPaymentID)
	assert.Equal(t, int64(1), testsupport.Count(t, f.db, "payment_callbacks"))
}

func TestInvalidCallbacksAreRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidCallback)

	_, err = f.svc.HandleCallback(context.Background(), mpesa.Provider, []byte(`{"Body":{}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidCallback)

	_, err = f.svc.HandleCallback(context.Background(), "paypal", successPayload("ws_CO_1", 10, "X"))
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "payment_callbacks"))
}

func TestFailedCommitIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})
	f.sales.fails = 1
	payload := successPayload("ws_CO_1", 232, "QKJ7ABC123")

	_, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.Error(t, err)
	assert.NotErrorIs(t, err, paymentdomain.ErrStockUnavailable)

	stored := f.reload(t, "ws_CO_1")
	assert.Equal(t, paymentdomain.StatusSuccess, stored.Status)
	assert.Nil(t, stored.SaleID)

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeSaleCommitted, res.Outcome)
	assert.NotNil(t, f.reload(t, "ws_CO_1").SaleID)
	assert.Equal(t, 3, testsupport.Stock(t, f.db, productID))
}

func TestRepairUnlinkedCommitsAfterGrace(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})
	f.sales.fails = 1

	_, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 232, "QKJ7ABC123"))
	require.Error(t, err)

	res, err := f.svc.RepairUnlinked(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)

	f.clock.Advance(3 * time.Minute)
	res, err = f.svc.RepairUnlinked(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Updated)

	stored := f.reload(t, "ws_CO_1")
	require.NotNil(t, stored.SaleID)
	receipt, err := f.sales.GetReceipt(context.Background(), tenantA, *stored.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "232", receipt.Total.String())
	assert.Equal(t, 3, testsupport.Stock(t, f.db, productID))

	res, err = f.svc.RepairUnlinked(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
}

func TestLateCallbackAfterTimeoutIsIgnored(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 5)
	f.seedPending(t, "ws_CO_1", 232, saledomain.CartLine{ProductID: productID, Quantity: 2})

	f.clock.Advance(6 * time.Minute)
	sweep, err := f.payments.ExpireStale(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Updated)

	res, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 232, "QKJ7ABC123"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.CallbackOutcomeDuplicate, res.Outcome)
	assert.Equal(t, paymentdomain.StatusTimeout, f.reload(t, "ws_CO_1").Status)
	assert.Equal(t, int64(0), testsupport.Count(t, f.db, "sales"))
	assert.Equal(t, 5, testsupport.Stock(t, f.db, productID))
}

func TestReconciliationQueue(t *testing.T) {
	f := newFixture(t)
	productID := testsupport.SeedProduct(t, f.db, f.node, tenantA, "Sugar 1kg", "100", 0)
	f.seedPending(t, "ws_CO_1", 116, saledomain.CartLine{ProductID: productID, Quantity: 1})

	_, err := f.svc.HandleCallback(context.Background(), mpesa.Provider, successPayload("ws_CO_1", 116, "QKJ7ABC123"))
	require.ErrorIs(t, err, paymentdomain.ErrStockUnavailable)

	open, err := f.payments.ListReconciliation(context.Background(), tenantA, paymentdomain.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ws_CO_1", open[0].CheckoutRequestID)
	assert.Contains(t, open[0].PhoneNumber, "****")

	other, err := f.payments.ListReconciliation(context.Background(), "tenant-b", "")
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = f.payments.ResolveReconciliation(context.Background(), tenantA, open[0].ID, "  ")
	assert.ErrorIs(t, err, paymentdomain.ErrResolutionNoteRequired)

	_, err = f.payments.ResolveReconciliation(context.Background(), "tenant-b", open[0].ID, "refunded")
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)

	resolved, err := f.payments.ResolveReconciliation(context.Background(), tenantA, open[0].ID, "refunded via M-Pesa reversal")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ReconciliationResolved, resolved.Status)
	require.NotNil(t, resolved.ResolutionNote)
	assert.Equal(t, "refunded via M-Pesa reversal", *resolved.ResolutionNote)

	_, err = f.payments.ResolveReconciliation(context.Background(), tenantA, open[0].ID, "again")
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyResolved)

	open, err = f.payments.ListReconciliation(context.Background(), tenantA, paymentdomain.ReconciliationOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}
