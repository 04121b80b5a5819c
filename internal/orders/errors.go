package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidCount        = errors.New("count must be positive")
	ErrConcurrencyConflict = errors.New("too many concurrent updates, try again")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrNotFound            = errors.New("not found")

	// ErrVersionConflict is returned by a Tx or by Store.InTx when a row
	// changed after it was read. Callers reload and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrCheckViolation mirrors the table check constraints
	// (0 <= reserved_count <= count_in_stock).
	ErrCheckViolation = errors.New("check constraint violated")
)

type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product %s not found.", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s has only %d units in stock", e.Name, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InvalidTransitionError struct {
	OrderID  uuid.UUID
	From, To OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
