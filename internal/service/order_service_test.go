package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is shared in-memory state backing the fake repositories
type memStore struct {
	mu            sync.Mutex
	products      map[int64]*domain.Product
	orders        map[int64]*domain.Order
	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]*domain.Product),
		orders:   make(map[int64]*domain.Order),
	}
}

func (s *memStore) addProduct(name, price string, stock int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	s.products[s.nextProductID] = &domain.Product{
		ID:         s.nextProductID,
		Name:       name,
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
		CategoryID: 1,
	}
	return s.nextProductID
}

func (s *memStore) productStock(t *testing.T, id int64) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	require.True(t, ok, "product %d not in store", id)
	return product.Stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func cloneProduct(p *domain.Product) *domain.Product {
	cp := *p
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = make([]domain.OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

// clone deep-copies the store so a failed transaction can be undone
func (s *memStore) clone() *memStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := newMemStore()
	snap.nextProductID = s.nextProductID
	snap.nextOrderID = s.nextOrderID
	snap.nextItemID = s.nextItemID
	for id, p := range s.products {
		snap.products[id] = cloneProduct(p)
	}
	for id, o := range s.orders {
		snap.orders[id] = cloneOrder(o)
	}
	return snap
}

func (s *memStore) restore(snap *memStore) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = snap.products
	s.orders = snap.orders
	s.nextProductID = snap.nextProductID
	s.nextOrderID = snap.nextOrderID
	s.nextItemID = snap.nextItemID
}

// memTxRunner serializes transactions the way row locks would and restores
// the pre-transaction snapshot when fn fails, mimicking a rollback
type memTxRunner struct {
	mu    sync.Mutex
	store *memStore
}

func (r *memTxRunner) RunInTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.store.clone()
	if err := fn(nil); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

type memProductRepo struct {
	store *memStore
}

func (r *memProductRepo) WithTx(*sql.Tx) repository.ProductRepository { return r }

func (r *memProductRepo) Create(_ context.Context, product *domain.Product) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r *memProductRepo) Update(_ context.Context, product *domain.Product) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r *memProductRepo) Delete(_ context.Context, id int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (r *memProductRepo) FindByID(_ context.Context, id int64) (*domain.Product, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

func (r *memProductRepo) List(_ context.Context, _ repository.ProductFilter, _, _ int, _ string, _ repository.SortOrder) ([]*domain.Product, int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	return products, len(products), nil
}

func (r *memProductRepo) ReserveStock(_ context.Context, id int64, quantity int) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	if product.Stock < quantity {
		return repository.ErrInsufficientStock
	}
	product.Stock -= quantity
	return nil
}

type memOrderRepo struct {
	store *memStore
}

func (r *memOrderRepo) WithTx(*sql.Tx) repository.OrderRepository { return r }

func (r *memOrderRepo) Create(_ context.Context, order *domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	order.ID = s.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}

	out := cloneOrder(order)
	for i := range out.Items {
		if product, ok := s.products[out.Items[i].ProductID]; ok {
			out.Items[i].Product = cloneProduct(product)
		}
	}
	return out, nil
}

func (r *memOrderRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []*domain.Order{}
	for id := s.nextOrderID; id >= 1; id-- {
		order, ok := s.orders[id]
		if !ok || order.UserID != userID {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	return orders, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	return nil
}

type sentNotification struct {
	userID  uuid.UUID
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Publish(userID uuid.UUID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, message: message})
}

func (n *recordingNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type recordingCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *recordingCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
}

func (c *recordingCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

func newOrderFixture() (OrderService, *memStore, *recordingNotifier, *recordingCache) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	cacheInv := &recordingCache{}
	svc := NewOrderService(
		&memTxRunner{store: store},
		&memOrderRepo{store: store},
		&memProductRepo{store: store},
		cacheInv,
		notifier,
		zap.NewNop(),
	)
	return svc, store, notifier, cacheInv
}

func TestPlaceOrderComputesExactTotal(t *testing.T) {
	svc, store, notifier, cacheInv := newOrderFixture()
	userID := uuid.New()
	productID := store.addProduct("Espresso Beans", "9.99", 5)

	order, err := svc.PlaceOrder(context.Background(), userID, []OrderLine{
		{ProductID: productID, Quantity: 2},
	})
	require.NoError(t, err)

	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("19.98")),
		"expected total 19.98, got %s", order.TotalPrice)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, userID, order.UserID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, productID, order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)

	assert.Equal(t, 3, store.productStock(t, productID))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, userID, sent[0].userID)
	assert.Equal(t, fmt.Sprintf("Order %d status changed to pending", order.ID), sent[0].message)

	assert.ElementsMatch(t,
		[]string{cache.ProductKey(productID), cache.KeyProductsList},
		cacheInv.keys(),
	)
}

func TestPlaceOrderMultipleLines(t *testing.T) {
	svc, store, _, _ := newOrderFixture()
	userID := uuid.New()
	beans := store.addProduct("Beans", "9.99", 10)
	grinder := store.addProduct("Grinder", "149.50", 2)

	order, err := svc.PlaceOrder(context.Background(), userID, []OrderLine{
		{ProductID: beans, Quantity: 3},
		{ProductID: grinder, Quantity: 1},
	})
	require.NoError(t, err)

	// 3*9.99 + 1*149.50 = 179.47
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("179.47")),
		"expected total 179.47, got %s", order.TotalPrice)
	assert.Equal(t, 7, store.productStock(t, beans))
	assert.Equal(t, 1, store.productStock(t, grinder))
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	svc, store, notifier, cacheInv := newOrderFixture()

	_, err := svc.PlaceOrder(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	assert.Equal(t, 0, store.orderCount())
	assert.Empty(t, notifier.all())
	assert.Empty(t, cacheInv.keys())
}

func TestPlaceOrderNonPositiveQuantity(t *testing.T) {
	svc, store, _, _ := newOrderFixture()
	productID := store.addProduct("Beans", "9.99", 5)

	for _, quantity := range []int{0, -1} {
		_, err := svc.PlaceOrder(context.Background(), uuid.New(), []OrderLine{
			{ProductID: productID, Quantity: quantity},
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}

	assert.Equal(t, 5, store.productStock(t, productID))
	assert.Equal(t, 0, store.orderCount())
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	svc, store, notifier, cacheInv := newOrderFixture()
	productID := store.addProduct("Beans", "9.99", 5)

	_, err := svc.PlaceOrder(context.Background(), uuid.New(), []OrderLine{
		{ProductID: productID, Quantity: 1},
		{ProductID: 9999, Quantity: 1},
	})

	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(9999), notFound.ProductID)

	// The first line reserved stock before the second failed; the rollback
	// must undo it
	assert.Equal(t, 5, store.productStock(t, productID))
	assert.Equal(t, 0, store.orderCount())
	assert.Empty(t, notifier.all())
	assert.Empty(t, cacheInv.keys())
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	svc, store, notifier, _ := newOrderFixture()
	beans := store.addProduct("Beans", "9.99", 10)
	grinder := store.addProduct("Grinder", "149.50", 2)

	_, err := svc.PlaceOrder(context.Background(), uuid.New(), []OrderLine{
		{ProductID: beans, Quantity: 4},
		{ProductID: grinder, Quantity: 3},
	})

	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, grinder, short.ProductID)
	assert.Equal(t, "Grinder", short.Name)
	assert.Equal(t, 3, short.Requested)
	assert.Equal(t, 2, short.Available)

	assert.Equal(t, 10, store.productStock(t, beans))
	assert.Equal(t, 2, store.productStock(t, grinder))
	assert.Equal(t, 0, store.orderCount())
	assert.Empty(t, notifier.all())
}

func TestPlaceOrderConcurrentNeverOversells(t *testing.T) {
	svc, store, notifier, _ := newOrderFixture()
	productID := store.addProduct("Beans", "9.99", 3)

	const attempts = 10

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), uuid.New(), []OrderLine{
				{ProductID: productID, Quantity: 1},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, shorted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			var short *InsufficientStockError
			require.ErrorAs(t, err, &short)
			shorted++
		}
	}

	assert.Equal(t, 3, succeeded, "exactly the available stock may be sold")
	assert.Equal(t, attempts-3, shorted)
	assert.Equal(t, 0, store.productStock(t, productID))
	assert.Equal(t, 3, store.orderCount())
	assert.Len(t, notifier.all(), 3)
}

func TestSetStatusNotifiesOwner(t *testing.T) {
	svc, store, notifier, _ := newOrderFixture()
	userID := uuid.New()
	productID := store.addProduct("Beans", "9.99", 5)

	order, err := svc.PlaceOrder(context.Background(), userID, []OrderLine{
		{ProductID: productID, Quantity: 1},
	})
	require.NoError(t, err)

	updated, err := svc.SetStatus(context.Background(), order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, updated.Status)

	sent := notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, userID, sent[1].userID)
	assert.Equal(t, fmt.Sprintf("Order %d status changed to shipped", order.ID), sent[1].message)
}

func TestSetStatusInvalidStatus(t *testing.T) {
	svc, _, _, _ := newOrderFixture()

	_, err := svc.SetStatus(context.Background(), 1, domain.OrderStatus("teleported"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSetStatusUnknownOrder(t *testing.T) {
	svc, _, notifier, _ := newOrderFixture()

	_, err := svc.SetStatus(context.Background(), 42, domain.OrderStatusShipped)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
	assert.Empty(t, notifier.all())
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	svc, store, _, _ := newOrderFixture()
	owner := uuid.New()
	productID := store.addProduct("Beans", "9.99", 5)

	order, err := svc.PlaceOrder(context.Background(), owner, []OrderLine{
		{ProductID: productID, Quantity: 1},
	})
	require.NoError(t, err)

	got, err := svc.GetOrder(context.Background(), owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// A foreign order reads as not found, never as forbidden
	_, err = svc.GetOrder(context.Background(), uuid.New(), order.ID)
	assert.True(t, errors.Is(err, repository.ErrOrderNotFound))
}

func TestListOrdersNewestFirst(t *testing.T) {
	svc, store, _, _ := newOrderFixture()
	userID := uuid.New()
	productID := store.addProduct("Beans", "9.99", 10)

	first, err := svc.PlaceOrder(context.Background(), userID, []OrderLine{{ProductID: productID, Quantity: 1}})
	require.NoError(t, err)
	second, err := svc.PlaceOrder(context.Background(), userID, []OrderLine{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)

	// Another user's order must not show up
	_, err = svc.PlaceOrder(context.Background(), uuid.New(), []OrderLine{{ProductID: productID, Quantity: 1}})
	require.NoError(t, err)

	orders, err := svc.ListOrders(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}
