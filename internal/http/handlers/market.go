package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/http/middleware"
	"github.com/alevoro-com/alevoro/internal/storagefee"
)

type MarketService interface {
	HandleApproval(ctx context.Context, in collateral.ApprovalInput) (*collateral.Record, error)
	CancelListing(ctx context.Context, itemID, caller, attachedDeposit string) (*collateral.Record, error)
	Finance(ctx context.Context, itemID, caller, attachedPayment string) (*collateral.Record, error)
	Repay(ctx context.Context, itemID, caller, attachedPayment string) (*collateral.Record, error)
	Reclaim(ctx context.Context, itemID, caller, attachedDeposit string) (*collateral.Record, error)
	Finalize(ctx context.Context, itemID, caller string) (*collateral.Record, error)
	ListAll(ctx context.Context, needAll bool) ([]collateral.Record, error)
	ListForAccount(ctx context.Context, accountID string, includeNonSale bool) ([]collateral.Record, error)
	ListFinanced(ctx context.Context, accountID string) ([]collateral.Record, error)
}

type MarketHandler struct {
	market MarketService
}

func NewMarketHandler(market MarketService) *MarketHandler {
	return &MarketHandler{market: market}
}

type attachedBody struct {
	AttachedDeposit string `json:"attached_deposit"`
}

func (h *MarketHandler) CancelListing(c *gin.Context) {
	itemID, body, ok := itemAction(c)
	if !ok {
		return
	}
	rec, err := h.market.CancelListing(c.Request.Context(), itemID, middleware.CallerAccount(c), body.AttachedDeposit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *MarketHandler) Finance(c *gin.Context) {
	itemID, body, ok := itemAction(c)
	if !ok {
		return
	}
	rec, err := h.market.Finance(c.Request.Context(), itemID, middleware.CallerAccount(c), body.AttachedDeposit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *MarketHandler) Repay(c *gin.Context) {
	itemID, body, ok := itemAction(c)
	if !ok {
		return
	}
	rec, err := h.market.Repay(c.Request.Context(), itemID, middleware.CallerAccount(c), body.AttachedDeposit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *MarketHandler) Reclaim(c *gin.Context) {
	itemID, body, ok := itemAction(c)
	if !ok {
		return
	}
	rec, err := h.market.Reclaim(c.Request.Context(), itemID, middleware.CallerAccount(c), body.AttachedDeposit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *MarketHandler) Finalize(c *gin.Context) {
	itemID := strings.TrimSpace(c.Param("itemId"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_item_id"})
		return
	}
	rec, err := h.market.Finalize(c.Request.Context(), itemID, middleware.CallerAccount(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": rec.ItemID})
}

func (h *MarketHandler) ListAll(c *gin.Context) {
	needAll, _ := strconv.ParseBool(c.DefaultQuery("need_all", "false"))
	items, err := h.market.ListAll(c.Request.Context(), needAll)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_items_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *MarketHandler) ListForAccount(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("accountId"))
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_account_id"})
		return
	}
	includeNonSale, _ := strconv.ParseBool(c.DefaultQuery("include_non_sale", "false"))
	items, err := h.market.ListForAccount(c.Request.Context(), accountID, includeNonSale)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_items_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *MarketHandler) ListFinanced(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("accountId"))
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_account_id"})
		return
	}
	items, err := h.market.ListFinanced(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_items_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func itemAction(c *gin.Context) (string, attachedBody, bool) {
	itemID := strings.TrimSpace(c.Param("itemId"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_item_id"})
		return "", attachedBody{}, false
	}
	body := attachedBody{AttachedDeposit: "0"}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return "", attachedBody{}, false
		}
	}
	if strings.TrimSpace(body.AttachedDeposit) == "" {
		body.AttachedDeposit = "0"
	}
	return itemID, body, true
}

func writeDomainError(c *gin.Context, err error) {
	var (
		validationErr   *collateral.ValidationError
		authErr         *collateral.AuthorizationError
		stateErr        *collateral.StateConflictError
		paymentErr      *collateral.PaymentMismatchError
		protocolErr     *collateral.ProtocolViolationError
		insufficientErr *storagefee.InsufficientDepositError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.As(err, &paymentErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_mismatch", "message": err.Error()})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_storage_deposit", "message": err.Error()})
	case errors.As(err, &protocolErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "protocol_violation", "message": err.Error()})
	case errors.As(err, &stateErr),
		errors.Is(err, collateral.ErrAlreadyListed),
		errors.Is(err, collateral.ErrLoanOverdue),
		errors.Is(err, collateral.ErrLoanNotOverdue),
		errors.Is(err, collateral.ErrNotFinalizable):
		c.JSON(http.StatusConflict, gin.H{"error": "state_conflict", "message": err.Error()})
	case errors.Is(err, collateral.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item_not_found", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
