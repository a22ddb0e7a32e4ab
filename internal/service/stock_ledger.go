package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/repository"
)

// StockLedger gates order admission: a reservation atomically checks and
// decrements a product's stock, so concurrent orders can never oversell.
// Bind it to the repository of the enclosing transaction so a later failure
// rolls the decrement back.
type StockLedger struct {
	products repository.ProductRepository
}

// NewStockLedger creates a ledger over the given product repository
func NewStockLedger(products repository.ProductRepository) *StockLedger {
	return &StockLedger{products: products}
}

// Reserve consumes quantity units of the product's stock. It returns
// *ProductNotFoundError when the product does not exist and
// *InsufficientStockError (carrying the product and the requested vs.
// available quantities) when stock is short.
func (l *StockLedger) Reserve(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	err := l.products.ReserveStock(ctx, productID, quantity)
	if err == nil {
		return nil
	}

	if errors.Is(err, repository.ErrProductNotFound) {
		return &ProductNotFoundError{ProductID: productID}
	}

	if errors.Is(err, repository.ErrInsufficientStock) {
		product, ferr := l.products.FindByID(ctx, productID)
		if ferr != nil {
			return fmt.Errorf("failed to load product after short reservation: %w", ferr)
		}
		return &InsufficientStockError{
			ProductID: productID,
			Name:      product.Name,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	return fmt.Errorf("failed to reserve stock: %w", err)
}
