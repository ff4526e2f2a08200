package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/validation"
)

type instrumentRequest struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type balanceRequest struct {
	UserID string      `json:"user_id"`
	Ticker string      `json:"ticker"`
	Amount json.Number `json:"amount"`
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id", nil)
		return
	}
	user, err := h.Users.Delete(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "delete user", err)
		return
	}
	c.JSON(http.StatusOK, userResponse{ID: user.ID.String(), Name: user.Name, Role: string(user.Role)})
}

func (h *Handler) AddInstrument(c *gin.Context) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateInstrument(req.Name, req.Ticker); len(errs) > 0 {
		h.respondError(c, "add instrument", errs)
		return
	}
	if _, err := h.Instruments.Add(c.Request.Context(), req.Name, validation.NormalizeTicker(req.Ticker)); err != nil {
		h.respondError(c, "add instrument", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) DeleteInstrument(c *gin.Context) {
	ticker := c.Param("ticker")
	if errs := validation.ValidateTicker(ticker); len(errs) > 0 {
		h.respondError(c, "delete instrument", errs)
		return
	}
	if err := h.Instruments.Delete(c.Request.Context(), ticker); err != nil {
		h.respondError(c, "delete instrument", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) Deposit(c *gin.Context) {
	h.adjustBalance(c, "deposit", h.Balances.Deposit)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.adjustBalance(c, "withdraw", h.Balances.Withdraw)
}

func (h *Handler) adjustBalance(c *gin.Context, op string, apply func(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	var errs validation.ValidationErrors
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		errs = append(errs, validation.FieldError{Field: "user_id", Message: "user_id must be a uuid"})
	}
	errs = append(errs, validation.ValidateTicker(req.Ticker)...)
	amount, err := validation.ParsePositiveInt(req.Amount.String(), "amount")
	if err != nil {
		errs = append(errs, validation.FieldError{Field: "amount", Message: err.Error()})
	}
	if len(errs) > 0 {
		h.respondError(c, op, errs)
		return
	}

	if err := apply(c.Request.Context(), userID, req.Ticker, amount); err != nil {
		h.respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}
