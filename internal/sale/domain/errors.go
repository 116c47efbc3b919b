package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrIdempotencyKeyRequired = errors.New("idempotency_key_required")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrInvalidTenant          = errors.New("invalid_tenant")
	ErrInvalidUser            = errors.New("invalid_user")
	ErrEmptyCart              = errors.New("empty_cart")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrInvalidPaymentMethod   = errors.New("invalid_payment_method")
	ErrInvalidDiscount        = errors.New("invalid_discount")
	ErrInsufficientPayment    = errors.New("insufficient_payment")
	ErrProductNotFound        = errors.New("product_not_found")
	ErrInsufficientStock      = errors.New("insufficient_stock")
	ErrNotFound               = errors.New("not_found")
)

// InsufficientStockError carries the numbers shown to the cashier.
type InsufficientStockError struct {
	ProductID snowflake.ID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product %s. Available: %d, Requested: %d", e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductNotFoundError names the product id that could not be sold.
type ProductNotFoundError struct {
	ProductID snowflake.ID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product not found: %s", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}
