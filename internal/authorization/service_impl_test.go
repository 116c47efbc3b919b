package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/tillpoint/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*ServiceImpl, func(tenant, user, role string)) {
	t.Helper()
	db := testsupport.NewDB(t)
	enforcer, err := newEnforcer(nil)
	require.NoError(t, err)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer}).(*ServiceImpl)
	seed := func(tenant, user, role string) {
		testsupport.SeedMember(t, db, tenant, user, role)
	}
	return svc, seed
}

func TestAuthorizeByMemberRole(t *testing.T) {
	svc, seed := newTestService(t)
	seed("tenant-a", "cashier-1", "Cashier")
	seed("tenant-a", "owner-1", "owner")
	ctx := context.Background()

	cashier := Actor{Type: ActorTypeUser, ID: "cashier-1", TenantID: "tenant-a"}
	owner := Actor{Type: ActorTypeUser, ID: "owner-1", TenantID: "tenant-a"}

	assert.NoError(t, svc.Authorize(ctx, cashier, ObjectSale, ActionSaleCreate))
	assert.NoError(t, svc.Authorize(ctx, cashier, ObjectPayment, ActionPaymentInitiate))
	assert.ErrorIs(t, svc.Authorize(ctx, cashier, ObjectReconciliation, ActionReconciliationResolve), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, cashier, ObjectPaymentProvider, ActionPaymentProviderManage), ErrForbidden)

	assert.NoError(t, svc.Authorize(ctx, owner, ObjectPaymentProvider, ActionPaymentProviderManage))
	assert.NoError(t, svc.Authorize(ctx, owner, ObjectReconciliation, ActionReconciliationResolve))
}

func TestMemberRowOverridesRoleHint(t *testing.T) {
	svc, seed := newTestService(t)
	seed("tenant-a", "cashier-1", "cashier")

	actor := Actor{Type: ActorTypeUser, ID: "cashier-1", TenantID: "tenant-a", RoleHint: "owner"}
	assert.ErrorIs(t, svc.Authorize(context.Background(), actor, ObjectPaymentProvider, ActionPaymentProviderManage), ErrForbidden)
}

func TestRoleHintWithoutMembership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	manager := Actor{Type: ActorTypeUser, ID: "u-9", TenantID: "tenant-b", RoleHint: "Manager"}
	assert.NoError(t, svc.Authorize(ctx, manager, ObjectReconciliation, ActionReconciliationView))

	nobody := Actor{Type: ActorTypeUser, ID: "u-10", TenantID: "tenant-b"}
	assert.ErrorIs(t, svc.Authorize(ctx, nobody, ObjectSale, ActionSaleView), ErrForbidden)
}

func TestRoleIsScopedToTenant(t *testing.T) {
	svc, seed := newTestService(t)
	seed("tenant-a", "user-1", "owner")
	seed("tenant-b", "user-1", "cashier")
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, ID: "user-1", TenantID: "tenant-a"}, ObjectPaymentProvider, ActionPaymentProviderManage))
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, ID: "user-1", TenantID: "tenant-b"}, ObjectPaymentProvider, ActionPaymentProviderManage), ErrForbidden)
	assert.NoError(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, ID: "user-1", TenantID: "tenant-a"}, ObjectPaymentProvider, ActionPaymentProviderManage))
}

func TestAuthorizeRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, ID: "u"}, ObjectSale, ActionSaleView), ErrInvalidTenant)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Type: "robot", ID: "u", TenantID: "t"}, ObjectSale, ActionSaleView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, TenantID: "t"}, ObjectSale, ActionSaleView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Type: ActorTypeUser, ID: "u", TenantID: "t"}, "", ActionSaleView), ErrInvalidObject)
}
