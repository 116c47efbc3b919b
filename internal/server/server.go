package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tillpoint/internal/audit"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/observability"
	obsmiddleware "github.com/smallbiznis/tillpoint/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tillpoint/internal/observability/tracing"
	"github.com/smallbiznis/tillpoint/internal/payment"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/paymentprovider"
	paymentproviderdomain "github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
	"github.com/smallbiznis/tillpoint/internal/product"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	"github.com/smallbiznis/tillpoint/internal/receipt"
	"github.com/smallbiznis/tillpoint/internal/sale"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains is every module the HTTP API and the scheduler share.
var Domains = fx.Options(
	audit.Module,
	authorization.Module,
	realtime.Module,
	product.Module,
	sale.Module,
	paymentprovider.Module,
	ratelimit.Module,
	payment.Module,
	receipt.Module,
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine             *gin.Engine
	cfg                config.Config
	log                *zap.Logger
	authzSvc           authorization.Service
	saleSvc            saledomain.Service
	paymentSvc         paymentdomain.Service
	webhookSvc         paymentdomain.WebhookService
	paymentProviderSvc paymentproviderdomain.Service
	receipts           receipt.Renderer
	commerce           *config.CommerceConfigHolder
	events             *realtime.Hub
}

type ServerParams struct {
	fx.In

	Gin                *gin.Engine
	Cfg                config.Config
	Log                *zap.Logger
	AuthzSvc           authorization.Service
	SaleSvc            saledomain.Service
	PaymentSvc         paymentdomain.Service
	WebhookSvc         paymentdomain.WebhookService
	PaymentProviderSvc paymentproviderdomain.Service
	Receipts           receipt.Renderer
	Commerce           *config.CommerceConfigHolder
	Events             *realtime.Hub `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:             p.Gin,
		cfg:                p.Cfg,
		log:                p.Log.Named("http.server"),
		authzSvc:           p.AuthzSvc,
		saleSvc:            p.SaleSvc,
		paymentSvc:         p.PaymentSvc,
		webhookSvc:         p.WebhookSvc,
		paymentProviderSvc: p.PaymentProviderSvc,
		receipts:           p.Receipts,
		commerce:           p.Commerce,
		events:             p.Events,
	}
}

// RegisterRoutes mounts the gateway callback without tenant headers and
// everything else behind TenantContext.
func (s *Server) RegisterRoutes() {
	r := s.engine

	r.POST("/payments/webhook", s.HandlePaymentWebhook)
	r.POST("/payments/webhook/:provider", s.HandlePaymentWebhook)

	api := r.Group("")
	api.Use(s.TenantContext())

	api.POST("/sales", s.authorize(authorization.ObjectSale, authorization.ActionSaleCreate), s.CreateSale)
	api.GET("/sales/:id", s.authorize(authorization.ObjectSale, authorization.ActionSaleView), s.GetSaleReceipt)
	api.GET("/sales/:id/receipt.pdf", s.authorize(authorization.ObjectSale, authorization.ActionSaleView), s.GetSaleReceiptPDF)

	api.POST("/payments/initiate", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentInitiate), s.InitiatePayment)
	api.GET("/payments/by-checkout-id/:checkoutRequestId", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentByCheckoutID)

	api.GET("/payments/reconciliation", s.authorize(authorization.ObjectReconciliation, authorization.ActionReconciliationView), s.ListReconciliation)
	api.POST("/payments/reconciliation/:id/resolve", s.authorize(authorization.ObjectReconciliation, authorization.ActionReconciliationResolve), s.ResolveReconciliation)

	providers := api.Group("/payment-providers")
	providers.Use(s.authorize(authorization.ObjectPaymentProvider, authorization.ActionPaymentProviderManage))
	providers.GET("", s.ListPaymentProviders)
	providers.PUT("/:provider", s.UpsertPaymentProviderConfig)
	providers.PATCH("/:provider", s.UpdatePaymentProviderStatus)

	api.GET("/events/stream", s.authorize(authorization.ObjectEvents, authorization.ActionEventsSubscribe), s.StreamEvents)
}
