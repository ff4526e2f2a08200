package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/orderbook"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/validation"
)

type registerRequest struct {
	Name string `json:"name"`
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	APIKey string `json:"api_key,omitempty"`
}

type instrumentItem struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type levelItem struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

type orderBookResponse struct {
	BidLevels []levelItem `json:"bid_levels"`
	AskLevels []levelItem `json:"ask_levels"`
}

type transactionItem struct {
	Ticker    string `json:"ticker"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateUserName(req.Name); len(errs) > 0 {
		h.respondError(c, "register", errs)
		return
	}

	user, key, err := h.Users.Register(c.Request.Context(), req.Name)
	if err != nil {
		h.respondError(c, "register", err)
		return
	}
	c.JSON(http.StatusOK, userResponse{
		ID:     user.ID.String(),
		Name:   user.Name,
		Role:   string(user.Role),
		APIKey: key,
	})
}

func (h *Handler) ListInstruments(c *gin.Context) {
	instruments, err := h.Instruments.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "list instruments", err)
		return
	}
	items := make([]instrumentItem, 0, len(instruments))
	for _, inst := range instruments {
		items = append(items, instrumentItem{Name: inst.Name, Ticker: inst.Ticker})
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) OrderBook(c *gin.Context) {
	ticker := c.Param("ticker")
	if errs := validation.ValidateTicker(ticker); len(errs) > 0 {
		h.respondError(c, "orderbook", errs)
		return
	}
	depth, ok := queryLimit(c, h.opts.DefaultBookDepth)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
		return
	}

	book, err := h.Orders.OrderBook(c.Request.Context(), ticker, depth)
	if err != nil {
		h.respondError(c, "orderbook", err)
		return
	}
	c.JSON(http.StatusOK, orderBookResponse{
		BidLevels: toLevels(book.Bids),
		AskLevels: toLevels(book.Asks),
	})
}

func (h *Handler) TransactionHistory(c *gin.Context) {
	ticker := c.Param("ticker")
	if errs := validation.ValidateTicker(ticker); len(errs) > 0 {
		h.respondError(c, "transactions", errs)
		return
	}
	limit, ok := queryLimit(c, h.opts.DefaultHistoryLimit)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
		return
	}

	trades, err := h.Orders.TransactionHistory(c.Request.Context(), ticker, limit)
	if err != nil {
		h.respondError(c, "transactions", err)
		return
	}
	items := make([]transactionItem, 0, len(trades))
	for _, tr := range trades {
		items = append(items, transactionItem{
			Ticker:    tr.Ticker,
			Amount:    tr.Amount,
			Price:     tr.Price,
			Timestamp: tr.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, items)
}

func toLevels(levels []orderbook.Level) []levelItem {
	out := make([]levelItem, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelItem{Price: l.Price, Qty: l.Qty})
	}
	return out
}
