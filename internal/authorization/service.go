package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Actor is the caller as asserted by the upstream gateway. RoleHint is used
// only when the tenant has no membership row for the user.
type Actor struct {
	Type     string
	ID       string
	TenantID string
	RoleHint string
}

func (a Actor) subject() string {
	if a.Type == ActorTypeSystem {
		return ActorTypeSystem
	}
	return a.Type + ":" + a.ID
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}
