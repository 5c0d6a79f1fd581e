package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	"github.com/alevoro-com/alevoro/internal/http/middleware"
	"github.com/alevoro-com/alevoro/internal/registry"
)

type ApprovalResolver interface {
	ResolveApproval(ctx context.Context, outcomes []escrow.ApprovalOutcome) (*escrow.ApprovalOutcome, error)
}

// RegistryHandler carries the inbound registry surface: the approval
// notification that triggers a listing, the single-outcome approval result,
// and the display-metadata proxy.
type RegistryHandler struct {
	market   MarketService
	resolver ApprovalResolver
	client   registry.Client
}

func NewRegistryHandler(market MarketService, resolver ApprovalResolver, client registry.Client) *RegistryHandler {
	return &RegistryHandler{market: market, resolver: resolver, client: client}
}

type approvalRequest struct {
	ItemID          string                  `json:"token_id"`
	HolderID        string                  `json:"owner_id"`
	ApprovalToken   string                  `json:"approval_id"`
	AttachedDeposit string                  `json:"attached_deposit"`
	Msg             collateral.ListingTerms `json:"msg"`
}

// HandleApproval lists an item. The authenticated caller must be the holder
// the notification claims, which is what prevents spoofed listings.
func (h *RegistryHandler) HandleApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	rec, err := h.market.HandleApproval(c.Request.Context(), collateral.ApprovalInput{
		ItemID:          strings.TrimSpace(req.ItemID),
		HolderID:        strings.TrimSpace(req.HolderID),
		ApprovalToken:   strings.TrimSpace(req.ApprovalToken),
		Caller:          middleware.CallerAccount(c),
		AttachedDeposit: strings.TrimSpace(req.AttachedDeposit),
		Terms:           req.Msg,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type approvalResultRequest struct {
	Outcomes []escrow.ApprovalOutcome `json:"outcomes"`
}

// HandleApprovalResult processes the registry's confirmation of the approval
// that preceded a listing. Exactly one outcome per listing is tolerated.
func (h *RegistryHandler) HandleApprovalResult(c *gin.Context) {
	var req approvalResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.resolver.ResolveApproval(c.Request.Context(), req.Outcomes)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": outcome.ItemID, "succeeded": outcome.Succeeded})
}

// GetItemMetadata proxies the registry's display projection of an item.
func (h *RegistryHandler) GetItemMetadata(c *gin.Context) {
	itemID := strings.TrimSpace(c.Param("itemId"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_item_id"})
		return
	}
	meta, err := h.client.ItemMetadata(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item_metadata_not_found"})
		return
	}
	c.JSON(http.StatusOK, meta)
}
