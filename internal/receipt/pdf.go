// Package receipt renders stored sales as printable documents.
package receipt

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
)

const dateLayout = "2006-01-02 15:04 MST"

// Header is printed above the line items.
type Header struct {
	StoreName string
	Currency  string
}

type Renderer interface {
	Render(ctx context.Context, header Header, receipt saledomain.Receipt) ([]byte, error)
}

type PDFRenderer struct{}

func NewPDFRenderer() Renderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, header Header, receipt saledomain.Receipt) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	storeName := strings.TrimSpace(header.StoreName)
	if storeName == "" {
		storeName = "Receipt"
	}
	m.AddRow(12,
		text.NewCol(12, storeName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	meta := []string{
		"Receipt #" + receipt.SaleID.String(),
		"Date: " + receipt.Date.Format(dateLayout),
		"Payment: " + strings.ToUpper(string(receipt.PaymentMethod)),
	}
	if receipt.MpesaReceipt != nil && *receipt.MpesaReceipt != "" {
		meta = append(meta, "M-Pesa ref: "+*receipt.MpesaReceipt)
	}
	if receipt.CustomerName != nil && *receipt.CustomerName != "" {
		meta = append(meta, "Customer: "+*receipt.CustomerName)
	}
	metaCol := col.New(12)
	for i, line := range meta {
		metaCol.Add(text.New(line, props.Text{Size: 9, Top: float64(i * 4)}))
	}
	m.AddRow(float64(len(meta)*4+4), metaCol)

	m.AddRow(8,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range receipt.Items {
		lineTotal := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		m.AddRow(7,
			text.NewCol(6, item.Name, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.Price), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(lineTotal), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))

	totals := []struct {
		label string
		value decimal.Decimal
		bold  bool
	}{
		{"Subtotal", receipt.Subtotal, false},
		{"Discount", receipt.Discount, false},
		{"VAT", receipt.VatAmount, false},
		{"Total", receipt.Total, true},
		{"Received", receipt.AmountReceived, false},
		{"Change", receipt.Change, false},
	}
	for _, row := range totals {
		if row.label == "Discount" && row.value.IsZero() {
			continue
		}
		style := props.Text{Size: 9}
		if row.bold {
			style.Style = fontstyle.Bold
		}
		label := row.label
		if row.bold && header.Currency != "" {
			label = fmt.Sprintf("%s (%s)", row.label, header.Currency)
		}
		valueStyle := style
		valueStyle.Align = align.Right
		m.AddRow(7,
			col.New(6),
			text.NewCol(4, label, style),
			text.NewCol(2, money(row.value), valueStyle),
		)
	}

	m.AddRow(12,
		text.NewCol(12, "Thank you for shopping with us", props.Text{
			Size:  9,
			Top:   4,
			Style: fontstyle.Italic,
			Align: align.Center,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", receipt.SaleID, err)
	}
	return doc.GetBytes(), nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
