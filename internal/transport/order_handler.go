package transport

import (
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlaceOrderRequest represents the order placement payload
type PlaceOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderItemRequest is one requested line item
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// SetStatusRequest represents the status transition payload
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending shipped delivered"`
}

// OrderHandler handles HTTP requests for order operations
type OrderHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// RegisterRoutes registers all order routes
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)

		// Status transitions come from the fulfillment side
		r.Group(func(r chi.Router) {
			r.Use(adminMiddleware)
			r.Patch("/{id}/status", h.SetStatus)
		})
	})
}

// PlaceOrder handles POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PlaceOrderRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Invalid order payload", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, service.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orderService.PlaceOrder(r.Context(), userID, lines)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}

	h.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("user_id", userID.String()),
		zap.String("total_price", order.TotalPrice.String()),
	)

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.orderService.ListOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("Failed to get order", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// SetStatus handles PATCH /api/orders/{id}/status
func (h *OrderHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req SetStatusRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	order, err := h.orderService.SetStatus(r.Context(), orderID, domain.OrderStatus(req.Status))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		if errors.Is(err, service.ErrInvalidStatus) {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid order status")
			return
		}
		h.logger.Error("Failed to update order status", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// respondOrderError maps the placement error taxonomy to HTTP statuses.
// Validation failures never leave partial state behind, so all of them are
// plain client errors.
func (h *OrderHandler) respondOrderError(w http.ResponseWriter, err error) {
	var notFound *service.ProductNotFoundError
	var shortStock *service.InsufficientStockError

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		middleware.RespondWithError(w, http.StatusBadRequest, "no items provided")
	case errors.Is(err, service.ErrInvalidQuantity):
		middleware.RespondWithError(w, http.StatusBadRequest, "item quantity must be positive")
	case errors.As(err, &notFound):
		middleware.RespondWithError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &shortStock):
		middleware.RespondWithErrorDetails(w, http.StatusConflict, shortStock.Error(), map[string]interface{}{
			"product_id": shortStock.ProductID,
			"product":    shortStock.Name,
			"requested":  shortStock.Requested,
			"available":  shortStock.Available,
		})
	default:
		h.logger.Error("Order placement failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requestUserID extracts the authenticated user's UUID from the request
// context populated by the auth middleware
func requestUserID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := middleware.GetUserID(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}
