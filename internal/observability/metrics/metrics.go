package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the order and payment pipeline instruments. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	salesCommitted      metric.Int64Counter
	idempotentReplays   metric.Int64Counter
	stockConflicts      metric.Int64Counter
	paymentsInitiated   metric.Int64Counter
	paymentCallbacks    metric.Int64Counter
	reconciliationItems metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New builds the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tillpoint"
	}
	meter := provider.Meter(name)

	counters := map[string]*metric.Int64Counter{}
	m := &Metrics{}
	counters["tillpoint_sales_committed_total"] = &m.salesCommitted
	counters["tillpoint_sales_idempotent_replays_total"] = &m.idempotentReplays
	counters["tillpoint_sales_stock_conflicts_total"] = &m.stockConflicts
	counters["tillpoint_payments_initiated_total"] = &m.paymentsInitiated
	counters["tillpoint_payment_callbacks_total"] = &m.paymentCallbacks
	counters["tillpoint_payment_reconciliation_items_total"] = &m.reconciliationItems
	counters["tillpoint_rate_limit_denied_total"] = &m.rateLimitDenied

	for instrument, dst := range counters {
		counter, err := meter.Int64Counter(instrument)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", instrument, err)
		}
		*dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordSaleCommitted(ctx context.Context, tenantID, paymentMethod string) {
	if m == nil {
		return
	}
	m.salesCommitted.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("payment_method", paymentMethod),
	)...))
}

func (m *Metrics) RecordIdempotentReplay(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.idempotentReplays.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tenant_id", tenantID),
	)...))
}

func (m *Metrics) RecordStockConflict(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.stockConflicts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tenant_id", tenantID),
	)...))
}

// RecordPaymentInitiated counts STK push attempts by result ("pending", "gateway_error", ...).
func (m *Metrics) RecordPaymentInitiated(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.paymentsInitiated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordPaymentCallback(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordReconciliationItem(ctx context.Context, tenantID, reason string) {
	if m == nil {
		return
	}
	m.reconciliationItems.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"tenant_id":      {},
	"endpoint":       {},
	"status_code":    {},
	"provider":       {},
	"outcome":        {},
	"payment_method": {},
	"reason":         {},
}

// FilterAttributes strips labels outside the allow-list and blank values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING {
			value := strings.TrimSpace(attr.Value.AsString())
			if value == "" {
				continue
			}
			attr = attribute.String(string(attr.Key), value)
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
