package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

// Valid reports whether s is one of the known order statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Order represents a committed order. TotalPrice always equals the sum of
// item price × quantity captured at commit time.
type Order struct {
	ID         int64           `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Status     OrderStatus     `json:"status" db:"status"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	Items      []OrderItem     `json:"items"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderItem binds one order to one product with a positive quantity.
// Items exist only as part of an order commit; creating one consumes
// stock from the referenced product.
type OrderItem struct {
	ID        int64    `json:"id" db:"id"`
	OrderID   int64    `json:"order_id" db:"order_id"`
	ProductID int64    `json:"product_id" db:"product_id"`
	Quantity  int      `json:"quantity" db:"quantity"`
	Product   *Product `json:"product,omitempty"`
}
