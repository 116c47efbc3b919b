package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	auditmasking "github.com/smallbiznis/tillpoint/internal/audit/masking"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Cfg      config.Config
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	encKey   []byte
	auditSvc auditdomain.Service
}

func New(p Params) (domain.Service, error) {
	key, err := deriveKey(strings.TrimSpace(p.Cfg.PaymentProviderConfigSecret))
	if err != nil {
		return nil, err
	}

	log := p.Log.Named("paymentprovider.service")
	if len(key) == 0 {
		log.Warn("payment provider config secret not set; tenant gateway credentials are disabled")
	}

	return &Service{
		db:       p.DB,
		log:      log,
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		encKey:   key,
		auditSvc: p.AuditSvc,
	}, nil
}

func (s *Service) ListCatalog(ctx context.Context) []domain.CatalogProvider {
	out := make([]domain.CatalogProvider, len(domain.Catalog))
	copy(out, domain.Catalog)
	return out
}

func (s *Service) ListConfigs(ctx context.Context, tenantID string) ([]domain.ConfigSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	items, err := s.repo.ListConfigs(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ConfigSummary, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.ConfigSummary{
			Provider:   item.Provider,
			IsActive:   item.IsActive,
			Configured: true,
			UpdatedAt:  item.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *Service) UpsertConfig(ctx context.Context, tenantID string, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	catalog := domain.FindCatalog(provider)
	if catalog == nil {
		return nil, domain.ErrInvalidProvider
	}

	cfg := normalizeConfig(req.Config)
	if len(cfg) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	for _, field := range catalog.RequiredFields {
		if _, ok := cfg[field]; !ok {
			return nil, domain.ErrInvalidConfig
		}
	}

	sealed, err := seal(s.encKey, cfg)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, tenantID, provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	record := domain.ProviderConfig{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Provider:  provider,
		Config:    sealed,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		record.ID = existing.ID
		record.IsActive = existing.IsActive
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.UpsertConfig(ctx, s.db, &record); err != nil {
		return nil, err
	}

	action := "provider.rotate_secret"
	if existing == nil {
		action = "provider.enable"
	}
	metadata := map[string]any{"provider": provider}
	if masked := auditmasking.MaskJSON(cfg); masked != nil {
		metadata["masked_fields"] = masked
	}
	s.audit(ctx, tenantID, action, provider, metadata)

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   record.IsActive,
		Configured: true,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

func (s *Service) SetActive(ctx context.Context, tenantID, provider string, isActive bool) (*domain.ConfigSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if domain.FindCatalog(provider) == nil {
		return nil, domain.ErrInvalidProvider
	}

	now := s.clock.Now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, s.db, tenantID, provider, isActive, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	action := "provider.disable"
	if isActive {
		action = "provider.enable"
	}
	s.audit(ctx, tenantID, action, provider, map[string]any{
		"provider":  provider,
		"is_active": isActive,
	})

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   isActive,
		Configured: true,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) ActiveConfig(ctx context.Context, tenantID, provider string) (map[string]any, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	provider = strings.ToLower(strings.TrimSpace(provider))

	item, err := s.repo.FindConfig(ctx, s.db, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.IsActive {
		return nil, domain.ErrNotFound
	}

	cfg, err := open(s.encKey, item.Config)
	if err != nil {
		if !errors.Is(err, domain.ErrEncryptionKeyMissing) {
			s.log.Warn("stored provider config could not be opened",
				zap.String("tenant_id", tenantID),
				zap.String("provider", provider),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return cfg, nil
}

func (s *Service) audit(ctx context.Context, tenantID, action, provider string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TenantID:   tenantID,
		Action:     action,
		TargetType: "payment_provider_config",
		TargetID:   provider,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit provider config change failed", zap.String("action", action), zap.Error(err))
	}
}

func normalizeConfig(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(config))
	for key, value := range config {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}

		switch cast := value.(type) {
		case string:
			trimmedValue := strings.TrimSpace(cast)
			if trimmedValue == "" {
				continue
			}
			normalized[trimmedKey] = trimmedValue
		default:
			normalized[trimmedKey] = cast
		}
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
