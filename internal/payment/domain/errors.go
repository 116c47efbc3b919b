package domain

import "errors"

var (
	ErrInvalidTenant              = errors.New("invalid_tenant")
	ErrInvalidUser                = errors.New("invalid_user")
	ErrInvalidPhoneNumber         = errors.New("invalid_phone_number")
	ErrInvalidAmount              = errors.New("invalid_amount")
	ErrInvalidCart                = errors.New("invalid_cart")
	ErrUnsupportedSnapshotVersion = errors.New("unsupported_snapshot_version")
	ErrInvalidProvider            = errors.New("invalid_provider")
	ErrProviderNotFound           = errors.New("provider_not_found")
	ErrProviderNotConfigured      = errors.New("provider_not_configured")
	ErrInvalidConfig              = errors.New("invalid_config")
	ErrInvalidCallback            = errors.New("invalid_callback")
	ErrRateLimited                = errors.New("rate_limited")
	ErrRateLimiterUnavailable     = errors.New("rate_limiter_unavailable")
	ErrGateway                    = errors.New("gateway_error")
	ErrStockUnavailable           = errors.New("stock_unavailable")
	ErrNotFound                   = errors.New("not_found")
	ErrAlreadyResolved            = errors.New("already_resolved")
)

var ErrResolutionNoteRequired = errors.New("resolution_note_required")
