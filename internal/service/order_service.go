package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/cache"
	"storefront/internal/database"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderLine is one requested cart entry
type OrderLine struct {
	ProductID int64
	Quantity  int
}

// Notifier pushes a message to every live session of a user. Delivery is
// best-effort and never fails the triggering commit.
type Notifier interface {
	Publish(userID uuid.UUID, message string)
}

// CacheInvalidator drops cache entries after successful commits
type CacheInvalidator interface {
	Delete(ctx context.Context, keys ...string)
}

// OrderService defines the interface for order business logic
type OrderService interface {
	// PlaceOrder validates the cart against live stock, commits the order
	// atomically, and notifies the owner. On any failure nothing persists:
	// no order, no items, no stock decrement.
	PlaceOrder(ctx context.Context, userID uuid.UUID, lines []OrderLine) (*domain.Order, error)

	// SetStatus transitions an order and notifies its owner. Entry point
	// for the external fulfillment collaborator.
	SetStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)

	ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	GetOrder(ctx context.Context, userID uuid.UUID, orderID int64) (*domain.Order, error)
}

type orderService struct {
	tx       database.TxRunner
	orders   repository.OrderRepository
	products repository.ProductRepository
	cache    CacheInvalidator
	notifier Notifier
	logger   *zap.Logger
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	tx database.TxRunner,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	cacheInv CacheInvalidator,
	notifier Notifier,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		tx:       tx,
		orders:   orders,
		products: products,
		cache:    cacheInv,
		notifier: notifier,
		logger:   logger,
	}
}

// PlaceOrder runs the whole placement as one transaction: per line item the
// product is looked up and its stock reserved, the total is accumulated with
// exact decimal arithmetic, and the order plus items are inserted. Only
// after the commit does it reload the order, invalidate product cache
// entries, and publish the notification.
func (s *orderService) PlaceOrder(ctx context.Context, userID uuid.UUID, lines []OrderLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	var orderID int64

	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		products := s.products.WithTx(tx)
		ledger := NewStockLedger(products)

		total := decimal.Zero
		items := make([]domain.OrderItem, 0, len(lines))

		for _, line := range lines {
			product, err := products.FindByID(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, repository.ErrProductNotFound) {
					return &ProductNotFoundError{ProductID: line.ProductID}
				}
				return fmt.Errorf("failed to load product: %w", err)
			}

			if err := ledger.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}

			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			items = append(items, domain.OrderItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
			})
		}

		order := &domain.Order{
			UserID:     userID,
			Status:     domain.OrderStatusPending,
			TotalPrice: total,
			Items:      items,
		}
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		orderID = order.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Read-after-write: the response reflects the committed state, not the
	// in-memory draft.
	committed, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload committed order: %w", err)
	}

	s.invalidateProducts(ctx, lines)
	s.notifyStatus(committed)

	return committed, nil
}

// SetStatus transitions an order to status and notifies its owner
func (s *orderService) SetStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	if err := s.orders.UpdateStatus(ctx, orderID, status); err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}

	s.notifyStatus(order)

	return order, nil
}

// ListOrders retrieves all orders owned by userID
func (s *orderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetOrder retrieves one order, enforcing ownership. A foreign order is
// reported as not found rather than forbidden so existence does not leak.
func (s *orderService) GetOrder(ctx context.Context, userID uuid.UUID, orderID int64) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

// notifyStatus publishes the order's current status to its owner
func (s *orderService) notifyStatus(order *domain.Order) {
	s.notifier.Publish(order.UserID, fmt.Sprintf("Order %d status changed to %s", order.ID, order.Status))
}

// invalidateProducts drops cache entries for the products whose stock the
// committed order consumed, plus the aggregate listing
func (s *orderService) invalidateProducts(ctx context.Context, lines []OrderLine) {
	keys := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		keys = append(keys, cache.ProductKey(line.ProductID))
	}
	keys = append(keys, cache.KeyProductsList)
	s.cache.Delete(ctx, keys...)
}
