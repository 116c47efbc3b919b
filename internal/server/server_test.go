package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/mpesa"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tillpoint/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tillpoint/internal/payment/service"
	"github.com/smallbiznis/tillpoint/internal/payment/webhook"
	paymentproviderrepo "github.com/smallbiznis/tillpoint/internal/paymentprovider/repository"
	paymentproviderservice "github.com/smallbiznis/tillpoint/internal/paymentprovider/service"
	productrepo "github.com/smallbiznis/tillpoint/internal/product/repository"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	"github.com/smallbiznis/tillpoint/internal/receipt"
	salerepo "github.com/smallbiznis/tillpoint/internal/sale/repository"
	saleservice "github.com/smallbiznis/tillpoint/internal/sale/service"
	"github.com/smallbiznis/tillpoint/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

type fakeGateway struct {
	mu  sync.Mutex
	err error
	seq int
}

func (f *fakeGateway) Provider() string { return mpesa.Provider }

func (f *fakeGateway) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	return f, nil
}

func (f *fakeGateway) ParseCallback(payload []byte) (*paymentdomain.Callback, error) {
	return mpesa.NewFactory(nil, nil).ParseCallback(payload)
}

func (f *fakeGateway) STKPush(ctx context.Context, req paymentdomain.STKPushRequest) (*paymentdomain.STKPushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	return &paymentdomain.STKPushResult{
		MerchantRequestID:   fmt.Sprintf("m-%d", f.seq),
		CheckoutRequestID:   fmt.Sprintf("ws_CO_%d", f.seq),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

type testServer struct {
	db      *gorm.DB
	node    *snowflake.Node
	engine  *gin.Engine
	gateway *fakeGateway
	hub     *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	commerce := config.NewStaticCommerceConfig(config.DefaultCommerceConfig())
	hub := realtime.NewHub()
	gateway := &fakeGateway{}
	registry := adapters.NewRegistry(gateway)
	cfg := config.Config{
		AppName:                     "tillpoint",
		PaymentProviderConfigSecret: "server-test-secret",
		Mpesa: config.MpesaConfig{
			Environment:    "sandbox",
			ConsumerKey:    "global-ck",
			ConsumerSecret: "global-cs",
			ShortCode:      "174379",
			Passkey:        "global-pk",
			CallbackURL:    "https://pos.example.com/payments/webhook",
		},
	}

	saleSvc := saleservice.NewService(saleservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fc,
		Repo:        salerepo.Provide(),
		ProductRepo: productrepo.Provide(),
		Commerce:    commerce,
		Events:      hub,
	})
	providerSvc, err := paymentproviderservice.New(paymentproviderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
		Repo:  paymentproviderrepo.Provide(),
		Cfg:   cfg,
	})
	require.NoError(t, err)
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fc,
		Repo:      paymentrepo.Provide(),
		Adapters:  registry,
		Commerce:  commerce,
		Cfg:       cfg,
		Providers: providerSvc,
		Events:    hub,
	})
	webhookSvc := webhook.NewService(webhook.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Repo:     paymentrepo.Provide(),
		Adapters: registry,
		SaleSvc:  saleSvc,
		SaleRepo: salerepo.Provide(),
		Events:   hub,
	})
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{DB: db, Log: log, Enforcer: enforcer})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:                engine,
		Cfg:                cfg,
		Log:                log,
		AuthzSvc:           authzSvc,
		SaleSvc:            saleSvc,
		PaymentSvc:         paymentSvc,
		WebhookSvc:         webhookSvc,
		PaymentProviderSvc: providerSvc,
		Receipts:           receipt.NewPDFRenderer(),
		Commerce:           commerce,
		Events:             hub,
	})
	srv.RegisterRoutes()

	testsupport.SeedMember(t, db, tenantA, "cashier-1", authorization.RoleCashier)
	testsupport.SeedMember(t, db, tenantA, "manager-1", authorization.RoleManager)
	testsupport.SeedMember(t, db, tenantA, "admin-1", authorization.RoleAdmin)
	testsupport.SeedMember(t, db, tenantB, "cashier-b", authorization.RoleCashier)

	return &testServer{db: db, node: node, engine: engine, gateway: gateway, hub: hub}
}

type requestOption func(*http.Request)

func as(tenantID, userID string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(HeaderTenantID, tenantID)
		r.Header.Set(HeaderUserID, userID)
	}
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (ts *testServer) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decodeBody(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload
}

func saleBody(key string, productID snowflake.ID, qty int, method string, received any) map[string]any {
	body := map[string]any{
		"idempotencyKey": key,
		"items":          []map[string]any{{"productId": productID.String(), "quantity": qty}},
		"paymentMethod":  method,
	}
	if received != nil {
		body["amountReceived"] = received
	}
	return body
}

func successPayload(checkoutID string, amount int64, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"m-x",
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

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestsWithoutTenantHeadersAreRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/sales", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorOf(t, rec)["type"])

	rec = ts.do(t, http.MethodPost, "/sales", map[string]any{}, withHeader(HeaderTenantID, tenantA))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSaleReturnsReceipt(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	rec := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 2, "cash", 300), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "200", body["subtotal"])
	assert.Equal(t, "32", body["vatAmount"])
	assert.Equal(t, "232", body["total"])
	assert.Equal(t, "68", body["change"])
	assert.Equal(t, "cash", body["paymentMethod"])
	assert.Equal(t, 3, testsupport.Stock(t, ts.db, productID))
}

func TestCreateSaleReplayIsIdentical(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	first := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 2, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 2, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 3, testsupport.Stock(t, ts.db, productID))
	assert.Equal(t, int64(1), testsupport.Count(t, ts.db, "sales"))
}

func TestCreateSaleAcceptsIdempotencyHeader(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	body := saleBody("", productID, 1, "card", nil)
	rec := ts.do(t, http.MethodPost, "/sales", body, as(tenantA, "cashier-1"), withHeader(HeaderIdempotencyKey, "hdr-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/sales", body, as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := errorOf(t, rec)
	assert.Equal(t, "validation_error", payload["type"])
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "idempotency_key_required", errs[0].(map[string]any)["code"])
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 1)

	rec := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 3, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := errorOf(t, rec)
	assert.Equal(t, "validation_error", payload["type"])
	assert.Equal(t, "Insufficient stock for product Sugar 1kg. Available: 1, Requested: 3", payload["message"])
	assert.Equal(t, 1, testsupport.Stock(t, ts.db, productID))
	assert.Equal(t, int64(0), testsupport.Count(t, ts.db, "sales"))
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	ts := newTestServer(t)
	otherTenantProduct := testsupport.SeedProduct(t, ts.db, ts.node, tenantB, "Salt", "50", 10)

	rec := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", otherTenantProduct, 1, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := errorOf(t, rec)["errors"].([]any)
	assert.Equal(t, "product_not_found", errs[0].(map[string]any)["code"])
	assert.Equal(t, 10, testsupport.Stock(t, ts.db, otherTenantProduct))
}

func TestCreateSaleMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/sales", "{not json", as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorOf(t, rec)["type"])
}

func TestUnknownUserWithoutRoleIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	rec := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 1, "card", nil), as(tenantA, "stranger"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 1, "card", nil),
		as(tenantA, "stranger"), withHeader(HeaderUserRole, "cashier"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestReceiptIsTenantScoped(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	rec := ts.do(t, http.MethodPost, "/sales", saleBody("key-1", productID, 1, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	saleID := decodeBody(t, rec)["saleId"].(string)

	rec = ts.do(t, http.MethodGet, "/sales/"+saleID, nil, as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/sales/"+saleID, nil, as(tenantB, "cashier-b"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/sales/"+saleID+"/receipt.pdf", nil, as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func initiateBody(productID snowflake.ID, qty int, amount int) map[string]any {
	return map[string]any{
		"phoneNumber": "0712345678",
		"amount":      amount,
		"cart": map[string]any{
			"items":        []map[string]any{{"productId": productID.String(), "quantity": qty}},
			"customerName": "Wanjiku",
		},
	}
}

func TestInitiateAndWebhookCommitSale(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	rec := ts.do(t, http.MethodPost, "/payments/initiate", initiateBody(productID, 2, 232), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	initiated := decodeBody(t, rec)
	checkoutID := initiated["checkoutRequestId"].(string)
	assert.Equal(t, "pending", initiated["status"])
	assert.Equal(t, 5, testsupport.Stock(t, ts.db, productID))

	rec = ts.do(t, http.MethodPost, "/payments/webhook", successPayload(checkoutID, 232, "QKJ7ABC123"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, 3, testsupport.Stock(t, ts.db, productID))

	rec = ts.do(t, http.MethodPost, "/payments/webhook", successPayload(checkoutID, 232, "QKJ7ABC123"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, testsupport.Stock(t, ts.db, productID))
	assert.Equal(t, int64(1), testsupport.Count(t, ts.db, "sales"))

	rec = ts.do(t, http.MethodGet, "/payments/by-checkout-id/"+checkoutID, nil, as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "success", status["status"])
	assert.Equal(t, "QKJ7ABC123", status["receiptNumber"])
	assert.NotEmpty(t, status["saleId"])

	rec = ts.do(t, http.MethodGet, "/payments/by-checkout-id/"+checkoutID, nil, as(tenantB, "cashier-b"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiateValidation(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	body := initiateBody(productID, 1, 116)
	body["phoneNumber"] = "0812345678"
	rec := ts.do(t, http.MethodPost, "/payments/initiate", body, as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := errorOf(t, rec)["errors"].([]any)
	assert.Equal(t, "invalid_phone_number", errs[0].(map[string]any)["code"])
	assert.Equal(t, "phoneNumber", errs[0].(map[string]any)["field"])

	body = initiateBody(productID, 1, 116)
	delete(body, "amount")
	rec = ts.do(t, http.MethodPost, "/payments/initiate", body, as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(0), testsupport.Count(t, ts.db, "pending_payments"))
}

func TestInitiateGatewayErrors(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 5)

	ts.gateway.err = &paymentdomain.GatewayError{Provider: mpesa.Provider, StatusCode: 500, Message: "upstream down", Retryable: true}
	rec := ts.do(t, http.MethodPost, "/payments/initiate", initiateBody(productID, 1, 116), as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "gateway_error", errorOf(t, rec)["type"])

	ts.gateway.err = &paymentdomain.GatewayError{Provider: mpesa.Provider, StatusCode: 400, Message: "Invalid Access Token"}
	rec = ts.do(t, http.MethodPost, "/payments/initiate", initiateBody(productID, 1, 116), as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, int64(0), testsupport.Count(t, ts.db, "pending_payments"))
}

func TestWebhookStockUnavailableQueuesReconciliation(t *testing.T) {
	ts := newTestServer(t)
	productID := testsupport.SeedProduct(t, ts.db, ts.node, tenantA, "Sugar 1kg", "100", 2)

	rec := ts.do(t, http.MethodPost, "/payments/initiate", initiateBody(productID, 2, 232), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	checkoutID := decodeBody(t, rec)["checkoutRequestId"].(string)

	rec = ts.do(t, http.MethodPost, "/sales", saleBody("walk-in", productID, 2, "card", nil), as(tenantA, "cashier-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/payments/webhook", successPayload(checkoutID, 232, "QKJ7ABC999"))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "stock_unavailable", errorOf(t, rec)["type"])
	assert.Equal(t, 0, testsupport.Stock(t, ts.db, productID))

	rec = ts.do(t, http.MethodGet, "/payments/reconciliation?status=open", nil, as(tenantA, "cashier-1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/payments/reconciliation?status=open", nil, as(tenantA, "manager-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, checkoutID, item["checkout_request_id"])
	assert.Equal(t, "2547****678", item["phone_number"])
	itemID := item["id"].(string)

	rec = ts.do(t, http.MethodPost, "/payments/reconciliation/"+itemID+"/resolve", map[string]any{"note": ""}, as(tenantA, "manager-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/payments/reconciliation/"+itemID+"/resolve", map[string]any{"note": "refunded via M-Pesa B2C"}, as(tenantA, "manager-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/payments/reconciliation/"+itemID+"/resolve", map[string]any{"note": "again"}, as(tenantA, "manager-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/payments/reconciliation?status=bogus", nil, as(tenantA, "manager-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownCheckoutIsAcknowledged(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/payments/webhook", successPayload("ws_CO_missing", 100, "QKJ000"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestWebhookMalformedPayload(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/payments/webhook", `{"Body":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/payments/webhook", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentProviderConfigRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"config": map[string]any{
		"consumerKey":    "ck-tenant",
		"consumerSecret": "cs-tenant",
		"shortCode":      "600000",
		"passkey":        "pk-tenant",
	}}

	rec := ts.do(t, http.MethodPut, "/payment-providers/mpesa", body, as(tenantA, "manager-1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/payment-providers/mpesa", body, as(tenantA, "admin-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decodeBody(t, rec)["config"].(map[string]any)
	assert.Equal(t, "mpesa", cfg["provider"])
	assert.Equal(t, true, cfg["is_active"])
	assert.NotContains(t, rec.Body.String(), "cs-tenant")

	rec = ts.do(t, http.MethodPut, "/payment-providers/paypal", body, as(tenantA, "admin-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/payment-providers/mpesa", map[string]any{"is_active": false}, as(tenantA, "admin-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/payment-providers", nil, as(tenantA, "admin-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody(t, rec)
	assert.Len(t, listed["providers"], 1)
	assert.Len(t, listed["configs"], 1)
}

func TestStreamEventsDeliversTenantEvents(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.hub.Publish(tenantA, realtime.EventSaleCreated, map[string]any{"saleId": "1"})
				ts.hub.Publish(tenantB, realtime.EventSaleCreated, map[string]any{"saleId": "2"})
			}
		}
	}()

	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	req.Header.Set(HeaderTenantID, tenantA)
	req.Header.Set(HeaderUserID, "cashier-1")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.True(t, strings.HasPrefix(out, "retry: 2000"))
	assert.Contains(t, out, "event: sale.created")
	assert.Contains(t, out, `"tenantId":"tenant-a"`)
	assert.NotContains(t, out, `"tenantId":"tenant-b"`)
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{paymentdomain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{paymentdomain.ErrRateLimiterUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{fmt.Errorf("wrap: %w", paymentdomain.ErrStockUnavailable), http.StatusConflict, "stock_unavailable"},
		{paymentdomain.ErrProviderNotConfigured, http.StatusServiceUnavailable, "provider_not_configured"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{paymentdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: bad json", paymentdomain.ErrInvalidCallback), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}

	typ, code := classifyErrorForLog(fmt.Errorf("%w: bad json", paymentdomain.ErrInvalidCallback))
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_callback", code)
}
