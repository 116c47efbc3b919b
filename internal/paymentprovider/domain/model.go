package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CatalogProvider describes a gateway a tenant can connect.
type CatalogProvider struct {
	Provider        string   `json:"provider"`
	DisplayName     string   `json:"display_name"`
	Description     *string  `json:"description,omitempty"`
	RequiredFields  []string `json:"required_fields"`
	SupportsWebhook bool     `json:"supports_webhook"`
	SupportsRefund  bool     `json:"supports_refund"`
}

const ProviderMpesa = "mpesa"

var mpesaDescription = "Safaricom M-Pesa STK push (Lipa na M-Pesa Online)"

// Catalog lists the gateways this deployment can talk to.
var Catalog = []CatalogProvider{
	{
		Provider:        ProviderMpesa,
		DisplayName:     "M-Pesa",
		Description:     &mpesaDescription,
		RequiredFields:  []string{"consumerKey", "consumerSecret", "shortCode", "passkey"},
		SupportsWebhook: true,
		SupportsRefund:  false,
	},
}

func FindCatalog(provider string) *CatalogProvider {
	for i := range Catalog {
		if Catalog[i].Provider == provider {
			return &Catalog[i]
		}
	}
	return nil
}

// ProviderConfig holds a tenant's sealed gateway credentials.
type ProviderConfig struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID  string         `json:"tenant_id" gorm:"not null"`
	Provider  string         `json:"provider" gorm:"type:text;not null"`
	Config    datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }
