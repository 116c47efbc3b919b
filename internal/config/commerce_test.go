package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommerceConfig(t *testing.T) {
	cfg, err := parseCommerceConfig(commerceFile{
		TaxRate:          "0.16",
		MinPaymentAmount: 10,
		PendingTimeout:   "2m",
		GatewayTimeout:   "5s",
		Currency:         "kes",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.16", cfg.TaxRate.String())
	assert.Equal(t, int64(10), cfg.MinPaymentAmount)
	assert.Equal(t, 2*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "KES", cfg.Currency)
}

func TestParseCommerceConfigRejectsInvalid(t *testing.T) {
	base := commerceFile{TaxRate: "0.16", MinPaymentAmount: 1, PendingTimeout: "5m", GatewayTimeout: "15s", Currency: "KES"}

	cases := map[string]func(f *commerceFile){
		"negative tax":    func(f *commerceFile) { f.TaxRate = "-0.1" },
		"tax above one":   func(f *commerceFile) { f.TaxRate = "1.5" },
		"garbage tax":     func(f *commerceFile) { f.TaxRate = "abc" },
		"zero min amount": func(f *commerceFile) { f.MinPaymentAmount = 0 },
		"bad timeout":     func(f *commerceFile) { f.PendingTimeout = "soon" },
		"empty currency":  func(f *commerceFile) { f.Currency = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := base
			mutate(&f)
			_, err := parseCommerceConfig(f)
			assert.Error(t, err)
		})
	}
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var h *CommerceConfigHolder
	assert.Equal(t, DefaultCommerceConfig().TaxRate.String(), h.Get().TaxRate.String())
}
