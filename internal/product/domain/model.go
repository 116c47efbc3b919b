package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product is owned by the catalog. The order pipeline only reads it and
// decrements stock.
type Product struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID  string          `json:"tenant_id" gorm:"not null"`
	Name      string          `json:"name" gorm:"not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(14,2);not null"`
	Stock     int             `json:"stock" gorm:"not null"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Product) TableName() string { return "products" }
