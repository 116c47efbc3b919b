package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CommerceConfig is the pricing and payment policy that may change without a restart.
type CommerceConfig struct {
	TaxRate          decimal.Decimal
	MinPaymentAmount int64
	PendingTimeout   time.Duration
	GatewayTimeout   time.Duration
	Currency         string
}

type commerceFile struct {
	TaxRate          string `mapstructure:"taxRate"`
	MinPaymentAmount int64  `mapstructure:"minPaymentAmount"`
	PendingTimeout   string `mapstructure:"pendingTimeout"`
	GatewayTimeout   string `mapstructure:"gatewayTimeout"`
	Currency         string `mapstructure:"currency"`
}

func DefaultCommerceConfig() CommerceConfig {
	return CommerceConfig{
		TaxRate:          decimal.RequireFromString("0.16"),
		MinPaymentAmount: 1,
		PendingTimeout:   5 * time.Minute,
		GatewayTimeout:   15 * time.Second,
		Currency:         "KES",
	}
}

type CommerceConfigHolder struct {
	current atomic.Value // holds CommerceConfig
}

// NewStaticCommerceConfig returns a holder that never reloads.
func NewStaticCommerceConfig(cfg CommerceConfig) *CommerceConfigHolder {
	holder := &CommerceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCommerceConfigHolder(log *zap.Logger) (*CommerceConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.commerce")

	v := viper.New()
	v.SetConfigName("commerce")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tillpoint/config")
	v.AddConfigPath("/etc/tillpoint")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TILLPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCommerceConfig()
	v.SetDefault("commerce.taxRate", defaults.TaxRate.String())
	v.SetDefault("commerce.minPaymentAmount", defaults.MinPaymentAmount)
	v.SetDefault("commerce.pendingTimeout", defaults.PendingTimeout.String())
	v.SetDefault("commerce.gatewayTimeout", defaults.GatewayTimeout.String())
	v.SetDefault("commerce.currency", defaults.Currency)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := readCommerceConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCommerceConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readCommerceConfig(v)
		if err != nil {
			log.Warn("commerce config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("commerce config reloaded", zap.String("file", e.Name), zap.String("tax_rate", updated.TaxRate.String()))
	})

	return holder, nil
}

func (h *CommerceConfigHolder) Get() CommerceConfig {
	if h == nil {
		return DefaultCommerceConfig()
	}
	return h.current.Load().(CommerceConfig)
}

func readCommerceConfig(v *viper.Viper) (CommerceConfig, error) {
	var raw commerceFile
	if err := v.UnmarshalKey("commerce", &raw); err != nil {
		return CommerceConfig{}, err
	}
	return parseCommerceConfig(raw)
}

func parseCommerceConfig(raw commerceFile) (CommerceConfig, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw.TaxRate))
	if err != nil {
		return CommerceConfig{}, errors.New("commerce.taxRate must be a decimal")
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return CommerceConfig{}, errors.New("commerce.taxRate must be within [0, 1)")
	}
	if raw.MinPaymentAmount < 1 {
		return CommerceConfig{}, errors.New("commerce.minPaymentAmount must be at least 1")
	}
	pending, err := time.ParseDuration(strings.TrimSpace(raw.PendingTimeout))
	if err != nil || pending <= 0 {
		return CommerceConfig{}, errors.New("commerce.pendingTimeout must be a positive duration")
	}
	gateway, err := time.ParseDuration(strings.TrimSpace(raw.GatewayTimeout))
	if err != nil || gateway <= 0 {
		return CommerceConfig{}, errors.New("commerce.gatewayTimeout must be a positive duration")
	}
	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		return CommerceConfig{}, errors.New("commerce.currency cannot be empty")
	}
	return CommerceConfig{
		TaxRate:          rate,
		MinPaymentAmount: raw.MinPaymentAmount,
		PendingTimeout:   pending,
		GatewayTimeout:   gateway,
		Currency:         currency,
	}, nil
}
