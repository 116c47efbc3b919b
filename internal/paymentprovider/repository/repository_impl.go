package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListConfigs(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, config, is_active, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC`,
		tenantID,
	).Scan(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repo) FindConfig(ctx context.Context, db *gorm.DB, tenantID, provider string) (*domain.ProviderConfig, error) {
	var item domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, config, is_active, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE tenant_id = ? AND provider = ?
		 LIMIT 1`,
		tenantID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, config *domain.ProviderConfig) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"config", "is_active", "updated_at"}),
		}).
		Select("*").
		Create(config).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, tenantID, provider string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs
		 SET is_active = ?, updated_at = ?
		 WHERE tenant_id = ? AND provider = ?`,
		isActive,
		updatedAt,
		tenantID,
		provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
