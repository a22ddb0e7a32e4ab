package service

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart rejects order placement with no line items
	ErrEmptyCart = errors.New("order must contain at least one item")

	// ErrInvalidQuantity rejects line items with a non-positive quantity
	ErrInvalidQuantity = errors.New("item quantity must be positive")

	// ErrInvalidStatus rejects unknown order status transitions
	ErrInvalidStatus = errors.New("invalid order status")
)

// ProductNotFoundError reports a line item referencing a product that does
// not exist. The whole placement fails; nothing is committed.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with id %d not found", e.ProductID)
}

// InsufficientStockError reports a line item requesting more units than the
// product holds. The whole placement fails; nothing is committed.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q (id %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}
