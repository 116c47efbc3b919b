package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	ListConfigs(ctx context.Context, db *gorm.DB, tenantID string) ([]ProviderConfig, error)
	FindConfig(ctx context.Context, db *gorm.DB, tenantID, provider string) (*ProviderConfig, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, config *ProviderConfig) error
	UpdateStatus(ctx context.Context, db *gorm.DB, tenantID, provider string, isActive bool, updatedAt time.Time) (bool, error)
}

type Service interface {
	ListCatalog(ctx context.Context) []CatalogProvider
	ListConfigs(ctx context.Context, tenantID string) ([]ConfigSummary, error)
	UpsertConfig(ctx context.Context, tenantID string, req UpsertRequest) (*ConfigSummary, error)
	SetActive(ctx context.Context, tenantID, provider string, isActive bool) (*ConfigSummary, error)
	// ActiveConfig returns the decrypted credentials of an active config, or
	// ErrNotFound when the tenant has none.
	ActiveConfig(ctx context.Context, tenantID, provider string) (map[string]any, error)
}

type ConfigSummary struct {
	Provider   string    `json:"provider"`
	IsActive   bool      `json:"is_active"`
	Configured bool      `json:"configured"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type UpsertRequest struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrNotFound             = errors.New("not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
