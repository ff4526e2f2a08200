package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/service"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/validation"
)

// createOrderRequest covers both order bodies; a missing price makes it a
// market order.
type createOrderRequest struct {
	Direction string      `json:"direction"`
	Ticker    string      `json:"ticker"`
	Qty       json.Number `json:"qty"`
	Price     json.Number `json:"price"`
}

type createOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

type orderBody struct {
	Direction string `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price,omitempty"`
}

type orderItem struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UserID    string    `json:"user_id"`
	Timestamp string    `json:"timestamp"`
	Body      orderBody `json:"body"`
	Filled    int64     `json:"filled"`
}

type orderHistoryResponse struct {
	Orders     []orderItem `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	order, errs := validation.ValidateOrderRequest(validation.OrderRequest{
		Direction: req.Direction,
		Ticker:    req.Ticker,
		Qty:       req.Qty.String(),
		Price:     req.Price.String(),
	})
	if len(errs) > 0 {
		h.respondError(c, "create order", errs)
		return
	}

	in := service.PlaceOrderInput{
		UserID:    userID,
		Ticker:    order.Ticker,
		Direction: storage.Direction(order.Direction),
		Qty:       order.Qty,
	}
	if order.HasPrice {
		price := order.Price
		in.Price = &price
	}

	placed, err := h.Orders.Place(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "create order", err)
		return
	}
	c.JSON(http.StatusOK, createOrderResponse{Success: true, OrderID: placed.ID.String()})
}

// ListOrders returns the caller's NEW orders.
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orders, err := h.Orders.ListActive(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "list orders", err)
		return
	}
	c.JSON(http.StatusOK, toOrderItems(orders))
}

func (h *Handler) OrderHistory(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	limit, ok := queryLimit(c, storage.DefaultListLimit)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
		return
	}

	orders, next, err := h.Orders.History(c.Request.Context(), userID, strings.TrimSpace(c.Query("cursor")), limit)
	if err != nil {
		h.respondError(c, "order history", err)
		return
	}
	c.JSON(http.StatusOK, orderHistoryResponse{Orders: toOrderItems(orders), NextCursor: next})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	order, err := h.Orders.Get(c.Request.Context(), userID, orderID)
	if err != nil {
		h.respondError(c, "get order", err)
		return
	}
	c.JSON(http.StatusOK, toOrderItem(*order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	if _, err := h.Orders.Cancel(c.Request.Context(), userID, orderID); err != nil {
		h.respondError(c, "cancel order", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) GetBalances(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	balances, err := h.Balances.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "balances", err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func toOrderItems(orders []storage.Order) []orderItem {
	items := make([]orderItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderItem(o))
	}
	return items
}

func toOrderItem(o storage.Order) orderItem {
	body := orderBody{
		Direction: string(o.Direction),
		Ticker:    o.Ticker,
		Qty:       o.Qty,
	}
	if price, ok := o.Price(); ok {
		body.Price = &price
	}
	return orderItem{
		ID:        o.ID.String(),
		Status:    string(o.Status),
		UserID:    o.UserID.String(),
		Timestamp: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		Body:      body,
		Filled:    o.Filled,
	}
}
