package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSale            = "sale"
	ObjectPayment         = "payment"
	ObjectReconciliation  = "payment_reconciliation"
	ObjectPaymentProvider = "payment_provider"
	ObjectEvents          = "events"
)

const (
	ActionSaleCreate = "sale.create"
	ActionSaleView   = "sale.view"

	ActionPaymentInitiate = "payment.initiate"
	ActionPaymentView     = "payment.view"

	ActionReconciliationView    = "reconciliation.view"
	ActionReconciliationResolve = "reconciliation.resolve"

	ActionPaymentProviderManage = "payment_provider.manage"

	ActionEventsSubscribe = "events.subscribe"
)

const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return newEnforcer(adapter)
}

// NewMemoryEnforcer keeps policies in process memory only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return newEnforcer(nil)
}

// newEnforcer builds the enforcer and seeds the role policies. A nil adapter
// keeps policies in memory.
func newEnforcer(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	actor.Type = strings.TrimSpace(actor.Type)
	actor.ID = strings.TrimSpace(actor.ID)
	actor.TenantID = strings.TrimSpace(actor.TenantID)
	if actor.TenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := s.resolveRole(ctx, actor)
	if err != nil {
		s.auditDenied(ctx, actor, object, action)
		return err
	}

	subject := actor.subject()
	domain := fmt.Sprintf("tenant:%s", actor.TenantID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor Actor) (string, error) {
	switch actor.Type {
	case ActorTypeSystem:
		return "role:system", nil
	case ActorTypeUser:
		if actor.ID == "" {
			return "", ErrInvalidActor
		}
		role, err := s.roleForUser(ctx, actor.TenantID, actor.ID)
		if err != nil {
			return "", err
		}
		if role == "" {
			role = strings.ToLower(strings.TrimSpace(actor.RoleHint))
		}
		if role == "" {
			return "", ErrForbidden
		}
		return "role:" + role, nil
	default:
		return "", ErrInvalidActor
	}
}

func (s *ServiceImpl) roleForUser(ctx context.Context, tenantID string, userID string) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM tenant_members
		 WHERE tenant_id = ? AND user_id = ?
		 LIMIT 1`,
		tenantID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(row.Role)), nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TenantID:   actor.TenantID,
		ActorType:  auditdomain.ActorType(actor.Type),
		ActorID:    actor.ID,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   "capability",
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": actor.subject(),
		},
	})
	if err != nil {
		s.log.Warn("audit authorization.denied failed", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	cashier := [][]string{
		{ObjectSale, ActionSaleCreate},
		{ObjectSale, ActionSaleView},
		{ObjectPayment, ActionPaymentInitiate},
		{ObjectPayment, ActionPaymentView},
		{ObjectEvents, ActionEventsSubscribe},
	}
	manager := append(append([][]string{}, cashier...),
		[]string{ObjectReconciliation, ActionReconciliationView},
		[]string{ObjectReconciliation, ActionReconciliationResolve},
	)
	admin := append(append([][]string{}, manager...),
		[]string{ObjectPaymentProvider, ActionPaymentProviderManage},
	)

	grants := map[string][][]string{
		"role:" + RoleCashier: cashier,
		"role:" + RoleManager: manager,
		"role:" + RoleAdmin:   admin,
		"role:" + RoleOwner:   admin,
		"role:system": {
			{ObjectPayment, ActionPaymentView},
			{ObjectReconciliation, ActionReconciliationView},
		},
	}

	for role, rules := range grants {
		for _, rule := range rules {
			if _, err := enforcer.AddPolicy(role, rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
