package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	paymentproviderdomain "github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
	"github.com/smallbiznis/tillpoint/internal/realtime"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels is checked in order; the first match names the code.
var validationSentinels = []error{
	ErrInvalidRequest,
	saledomain.ErrIdempotencyKeyRequired,
	saledomain.ErrInvalidTenant,
	saledomain.ErrInvalidUser,
	saledomain.ErrEmptyCart,
	saledomain.ErrInvalidQuantity,
	saledomain.ErrInvalidPaymentMethod,
	saledomain.ErrInvalidDiscount,
	saledomain.ErrInsufficientPayment,
	paymentdomain.ErrInvalidTenant,
	paymentdomain.ErrInvalidUser,
	paymentdomain.ErrInvalidPhoneNumber,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCart,
	paymentdomain.ErrUnsupportedSnapshotVersion,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidConfig,
	paymentdomain.ErrInvalidCallback,
	paymentdomain.ErrResolutionNoteRequired,
	paymentproviderdomain.ErrInvalidTenant,
	paymentproviderdomain.ErrInvalidProvider,
	paymentproviderdomain.ErrInvalidConfig,
	authorization.ErrInvalidTenant,
}

var validationFields = map[string]string{
	"idempotency_key_required":     "idempotencyKey",
	"empty_cart":                   "items",
	"invalid_quantity":             "items",
	"invalid_cart":                 "cart",
	"unsupported_snapshot_version": "cart",
	"insufficient_payment":         "amountReceived",
	"invalid_payment_method":       "paymentMethod",
	"invalid_phone_number":         "phoneNumber",
	"resolution_note_required":     "note",
	"invalid_callback":             "body",
}

var validationMessages = map[string]string{
	"invalid_request":              "invalid request",
	"idempotency_key_required":     "idempotency key is required",
	"empty_cart":                   "cart must contain at least one item",
	"invalid_quantity":             "quantity must be a positive whole number",
	"invalid_payment_method":       "payment method must be one of cash, card, mpesa, credit",
	"invalid_discount":             "discount must be between zero and the subtotal",
	"insufficient_payment":         "amount received is less than the total",
	"invalid_phone_number":         "phone number must be a valid Kenyan mobile number",
	"invalid_amount":               "amount is below the minimum payment amount",
	"invalid_cart":                 "cart is invalid",
	"unsupported_snapshot_version": "cart snapshot version is not supported",
	"invalid_callback":             "callback payload is malformed",
	"resolution_note_required":     "a resolution note is required",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var stockErr *saledomain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: stockErr.Error(),
			Errors: []ValidationError{
				{Field: "items", Code: "insufficient_stock", Message: stockErr.Error()},
			},
		}
	}
	var missingErr *saledomain.ProductNotFoundError
	if errors.As(err, &missingErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: missingErr.Error(),
			Errors: []ValidationError{
				{Field: "items", Code: "product_not_found", Message: missingErr.Error()},
			},
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var gatewayErr *paymentdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		status := http.StatusBadGateway
		if gatewayErr.Retryable {
			status = http.StatusServiceUnavailable
		}
		return status, errorPayload{
			Type:    "gateway_error",
			Message: "payment gateway request failed",
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, paymentdomain.ErrStockUnavailable):
		return http.StatusConflict, errorPayload{
			Type:    "stock_unavailable",
			Message: "stock unavailable for one or more items",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, saledomain.ErrIdempotencyKeyConflict),
		errors.Is(err, paymentdomain.ErrAlreadyResolved):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, paymentdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many payment requests, try again shortly",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrProviderNotConfigured),
		errors.Is(err, paymentproviderdomain.ErrEncryptionKeyMissing):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_not_configured",
			Message: "payment provider is not configured",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrRateLimiterUnavailable),
		errors.Is(err, realtime.ErrHubUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code written on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, saledomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentproviderdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	if field, ok := validationFields[code]; ok {
		return field
	}
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	if msg, ok := validationMessages[code]; ok {
		return msg
	}
	return "invalid value"
}
