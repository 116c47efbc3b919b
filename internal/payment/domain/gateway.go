package domain

import (
	"context"
	"fmt"
)

type AdapterConfig struct {
	TenantID string
	Provider string
	Config   map[string]any
}

// AdapterFactory builds tenant-bound gateways and parses the gateway's
// unsigned callbacks, which carry no tenant.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
	ParseCallback(payload []byte) (*Callback, error)
}

type Gateway interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error)
}

type STKPushRequest struct {
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string
}

type STKPushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// GatewayError is a failed gateway call. Retryable errors are transport
// failures and 5xx answers; the caller may try again with a new request.
type GatewayError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s gateway error (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Provider, msg)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}
