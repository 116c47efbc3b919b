package payment

import (
	"net/http"
	"time"

	"github.com/smallbiznis/tillpoint/internal/cache"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/mpesa"
	"github.com/smallbiznis/tillpoint/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tillpoint/internal/payment/service"
	"github.com/smallbiznis/tillpoint/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			mpesa.NewFactory(
				&http.Client{Timeout: 30 * time.Second},
				cache.NewTTLCache[string, string](),
			),
		)
	}),
	fx.Provide(paymentservice.NewLogRefunder),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
