package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	tenantIDKey  ctxKey = "tenant_id"
	actorTypeKey ctxKey = "actor_type"
	actorIDKey   ctxKey = "actor_id"
	clientIPKey  ctxKey = "client_ip"
	userAgentKey ctxKey = "user_agent"
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithTenantID(ctx stdcontext.Context, tenantID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, tenantIDKey, strings.TrimSpace(tenantID))
}

func TenantIDFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, tenantIDKey)
}

// WithActor records who is acting, e.g. ("user", "42") or ("gateway", "mpesa").
func WithActor(ctx stdcontext.Context, actorType, actorID string) stdcontext.Context {
	ctx = stdcontext.WithValue(ctx, actorTypeKey, strings.TrimSpace(actorType))
	return stdcontext.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx stdcontext.Context) (string, string) {
	return stringValue(ctx, actorTypeKey), stringValue(ctx, actorIDKey)
}

func WithClient(ctx stdcontext.Context, ip, userAgent string) stdcontext.Context {
	ctx = stdcontext.WithValue(ctx, clientIPKey, strings.TrimSpace(ip))
	return stdcontext.WithValue(ctx, userAgentKey, strings.TrimSpace(userAgent))
}

func ClientFromContext(ctx stdcontext.Context) (string, string) {
	return stringValue(ctx, clientIPKey), stringValue(ctx, userAgentKey)
}

func stringValue(ctx stdcontext.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
