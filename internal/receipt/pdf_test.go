package receipt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt() saledomain.Receipt {
	ref := "QKJ7ABC123"
	name := "Wanjiku"
	return saledomain.Receipt{
		SaleID: snowflake.ID(1893421),
		Date:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Items: []saledomain.ReceiptItem{
			{ProductID: 11, Name: "Sugar 1kg", Price: decimal.NewFromInt(100), Quantity: 2},
		},
		Subtotal:       decimal.NewFromInt(200),
		Discount:       decimal.Zero,
		VatAmount:      decimal.NewFromInt(32),
		Total:          decimal.NewFromInt(232),
		PaymentMethod:  saledomain.PaymentMethodMpesa,
		AmountReceived: decimal.NewFromInt(232),
		Change:         decimal.Zero,
		CustomerName:   &name,
		MpesaReceipt:   &ref,
	}
}

func TestRenderProducesPDF(t *testing.T) {
	out, err := NewPDFRenderer().Render(context.Background(), Header{StoreName: "Duka Moja", Currency: "KES"}, sampleReceipt())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPDFRenderer().Render(ctx, Header{}, sampleReceipt())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "232.00", money(decimal.NewFromInt(232)))
	assert.Equal(t, "0.50", money(decimal.RequireFromString("0.5")))
}
