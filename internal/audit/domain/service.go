package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Entry describes one auditable action. Empty TenantID or actor fields are
// filled from the request context.
type Entry struct {
	TenantID   string
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, tenantID, targetType, targetID string) ([]AuditLog, error)
}

type Service interface {
	AuditLog(ctx context.Context, entry Entry) error
	ListByTarget(ctx context.Context, tenantID, targetType, targetID string) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidTenant = errors.New("invalid_tenant")
)
