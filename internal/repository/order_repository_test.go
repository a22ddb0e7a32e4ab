package repository

import (
	"context"
	"testing"

	"storefront/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCreateAndFind(t *testing.T) {
	repo := NewOrderRepository(testDB)
	ctx := context.Background()

	user := createTestUser(t)
	category := createTestCategory(t)
	beans := createTestProduct(t, category.ID, "9.99", 10)
	grinder := createTestProduct(t, category.ID, "149.50", 2)

	order := &domain.Order{
		UserID:     user.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.RequireFromString("169.48"),
		Items: []domain.OrderItem{
			{ProductID: beans.ID, Quantity: 2},
			{ProductID: grinder.ID, Quantity: 1},
		},
	}
	require.NoError(t, repo.Create(ctx, order))
	require.NotZero(t, order.ID)
	require.NotZero(t, order.Items[0].ID)
	assert.Equal(t, order.ID, order.Items[0].OrderID)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.UserID)
	assert.Equal(t, domain.OrderStatusPending, found.Status)
	assert.True(t, found.TotalPrice.Equal(decimal.RequireFromString("169.48")),
		"expected total 169.48, got %s", found.TotalPrice)

	require.Len(t, found.Items, 2)
	assert.Equal(t, beans.ID, found.Items[0].ProductID)
	assert.Equal(t, 2, found.Items[0].Quantity)
	require.NotNil(t, found.Items[0].Product, "items carry joined product details")
	assert.Equal(t, beans.Name, found.Items[0].Product.Name)
	assert.True(t, found.Items[0].Product.Price.Equal(decimal.RequireFromString("9.99")))
}

func TestOrderFindByIDUnknown(t *testing.T) {
	repo := NewOrderRepository(testDB)

	_, err := repo.FindByID(context.Background(), -1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderListByUserNewestFirst(t *testing.T) {
	repo := NewOrderRepository(testDB)
	ctx := context.Background()

	user := createTestUser(t)
	other := createTestUser(t)
	category := createTestCategory(t)
	product := createTestProduct(t, category.ID, "9.99", 10)

	first := &domain.Order{
		UserID:     user.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.RequireFromString("9.99"),
		Items:      []domain.OrderItem{{ProductID: product.ID, Quantity: 1}},
	}
	require.NoError(t, repo.Create(ctx, first))

	second := &domain.Order{
		UserID:     user.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.RequireFromString("19.98"),
		Items:      []domain.OrderItem{{ProductID: product.ID, Quantity: 2}},
	}
	require.NoError(t, repo.Create(ctx, second))

	foreign := &domain.Order{
		UserID:     other.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.RequireFromString("9.99"),
		Items:      []domain.OrderItem{{ProductID: product.ID, Quantity: 1}},
	}
	require.NoError(t, repo.Create(ctx, foreign))

	orders, err := repo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 2, orders[0].Items[0].Quantity)

	orders, err = repo.ListByUser(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, foreign.ID, orders[0].ID)
}

func TestOrderUpdateStatus(t *testing.T) {
	repo := NewOrderRepository(testDB)
	ctx := context.Background()

	user := createTestUser(t)
	category := createTestCategory(t)
	product := createTestProduct(t, category.ID, "9.99", 10)

	order := &domain.Order{
		UserID:     user.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.RequireFromString("9.99"),
		Items:      []domain.OrderItem{{ProductID: product.ID, Quantity: 1}},
	}
	require.NoError(t, repo.Create(ctx, order))

	require.NoError(t, repo.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, found.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, -1, domain.OrderStatusShipped), ErrOrderNotFound)
}

func TestOrderItemQuantityConstraint(t *testing.T) {
	repo := NewOrderRepository(testDB)
	ctx := context.Background()

	user := createTestUser(t)
	category := createTestCategory(t)
	product := createTestProduct(t, category.ID, "9.99", 10)

	order := &domain.Order{
		UserID:     user.ID,
		Status:     domain.OrderStatusPending,
		TotalPrice: decimal.Zero,
		Items:      []domain.OrderItem{{ProductID: product.ID, Quantity: 0}},
	}
	assert.Error(t, repo.Create(ctx, order), "the quantity check constraint must reject zero")
}
