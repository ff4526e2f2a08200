package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/auth"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/orderbook"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/rate"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/service"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/validation"
)

type OrderService interface {
	Place(ctx context.Context, in service.PlaceOrderInput) (*storage.Order, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]storage.Order, error)
	History(ctx context.Context, userID uuid.UUID, cursor string, limit int) ([]storage.Order, string, error)
	OrderBook(ctx context.Context, ticker string, depth int) (orderbook.Book, error)
	TransactionHistory(ctx context.Context, ticker string, limit int) ([]storage.Transaction, error)
}

type BalanceService interface {
	Get(ctx context.Context, userID uuid.UUID) (map[string]int64, error)
	Deposit(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error
	Withdraw(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error
}

type InstrumentService interface {
	Add(ctx context.Context, name, ticker string) (*storage.Instrument, error)
	Delete(ctx context.Context, ticker string) error
	List(ctx context.Context) ([]storage.Instrument, error)
}

type UserService interface {
	auth.KeyResolver
	Register(ctx context.Context, name string) (*storage.User, string, error)
	Delete(ctx context.Context, id uuid.UUID) (*storage.User, error)
}

type Options struct {
	JWTSecret  []byte
	AdminToken string
	// Limiter guards order placement per user; nil disables it.
	Limiter             rate.Limiter
	DefaultBookDepth    int
	DefaultHistoryLimit int
}

type Handler struct {
	Orders      OrderService
	Balances    BalanceService
	Instruments InstrumentService
	Users       UserService
	Logger      *slog.Logger
	Clock       func() time.Time
	opts        Options
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(orders OrderService, balances BalanceService, instruments InstrumentService, users UserService, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.Disabled{}
	}
	if opts.DefaultBookDepth <= 0 {
		opts.DefaultBookDepth = service.DefaultBookDepth
	}
	if opts.DefaultHistoryLimit <= 0 {
		opts.DefaultHistoryLimit = service.DefaultHistoryLimit
	}
	return &Handler{
		Orders:      orders,
		Balances:    balances,
		Instruments: instruments,
		Users:       users,
		Logger:      logger,
		Clock:       time.Now,
		opts:        opts,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	public := v1.Group("/public")
	public.POST("/register", h.RegisterUser)
	public.GET("/instrument", h.ListInstruments)
	public.GET("/orderbook/:ticker", h.OrderBook)
	public.GET("/transactions/:ticker", h.TransactionHistory)

	user := v1.Group("/", auth.Middleware(h.opts.JWTSecret, h.Users))
	user.GET("/balance", h.GetBalances)
	user.POST("/order", h.rateLimit(), h.CreateOrder)
	user.GET("/order", h.ListOrders)
	user.GET("/order/history", h.OrderHistory)
	user.GET("/order/:id", h.GetOrder)
	user.DELETE("/order/:id", h.CancelOrder)

	admin := v1.Group("/admin", auth.AdminMiddleware(h.opts.AdminToken))
	admin.DELETE("/user/:id", h.DeleteUser)
	admin.POST("/instrument", h.AddInstrument)
	admin.DELETE("/instrument/:ticker", h.DeleteInstrument)
	admin.POST("/balance/deposit", h.Deposit)
	admin.POST("/balance/withdraw", h.Withdraw)
}

// rateLimit fails open when the limiter backend is unavailable.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserID(c)
		if !ok {
			c.Next()
			return
		}
		allowed, retryAfter, err := h.opts.Limiter.Allow(c.Request.Context(), userID, h.Clock())
		if err != nil {
			h.Logger.Warn("rate limiter unavailable", "user_id", userID, "error", err)
			c.Next()
			return
		}
		if !allowed {
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
		c.Next()
	}
}

// respondError maps service and storage errors onto the API error codes.
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	var fields validation.ValidationErrors
	switch {
	case errors.As(err, &fields):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", fields)
	case errors.Is(err, service.ErrOrderNotFound):
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "instrument not found", nil)
	case errors.Is(err, storage.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
	case errors.Is(err, storage.ErrInsufficientFunds), errors.Is(err, storage.ErrInsufficientInventory):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance", nil)
	case errors.Is(err, storage.ErrInvalidState):
		writeError(c, http.StatusBadRequest, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, storage.ErrConflict):
		writeError(c, http.StatusConflict, "CONFLICT", "already exists", nil)
	case errors.Is(err, storage.ErrInvalidCursor):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid cursor", nil)
	case errors.Is(err, service.ErrInvalidOrder), errors.Is(err, service.ErrQuoteInstrument):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := auth.UserID(c)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

// queryLimit reads ?limit, falling back to def when absent.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
