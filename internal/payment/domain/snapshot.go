package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"gorm.io/datatypes"
)

const CartSnapshotVersion = 1

// CartSnapshot is the cart captured at initiation. The sale is committed
// from it when the gateway confirms payment.
type CartSnapshot struct {
	SchemaVersion int                   `json:"schemaVersion"`
	TenantID      string                `json:"tenantId"`
	UserID        string                `json:"userId"`
	BranchID      *snowflake.ID         `json:"branchId,omitempty"`
	Items         []saledomain.CartLine `json:"items"`
	CustomerName  string                `json:"customerName,omitempty"`
	CustomerPhone string                `json:"customerPhone,omitempty"`
	Discount      *decimal.Decimal      `json:"discount,omitempty"`
}

func (s CartSnapshot) Validate() error {
	if len(s.Items) == 0 {
		return ErrInvalidCart
	}
	for _, item := range s.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return ErrInvalidCart
		}
	}
	if s.Discount != nil && s.Discount.IsNegative() {
		return ErrInvalidCart
	}
	return nil
}

func EncodeSnapshot(s CartSnapshot) (datatypes.JSON, error) {
	s.SchemaVersion = CartSnapshotVersion
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func DecodeSnapshot(raw datatypes.JSON) (CartSnapshot, error) {
	var s CartSnapshot
	if len(raw) == 0 {
		return s, ErrInvalidCart
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}
	if s.SchemaVersion != CartSnapshotVersion {
		return s, fmt.Errorf("%w: %d", ErrUnsupportedSnapshotVersion, s.SchemaVersion)
	}
	return s, s.Validate()
}
