package handlers

import (
	"net/http"

	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
)

// SettlementHandler exposes the settlement read model.
type SettlementHandler struct {
	settlementService *services.SettlementService
	quoteService      *services.QuoteService
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlementService *services.SettlementService, quoteService *services.QuoteService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
		quoteService:      quoteService,
	}
}

// GetSettlementStatusHandler handles GET /api/quotes/:id/settlement.
func (h *SettlementHandler) GetSettlementStatusHandler(c *gin.Context) {
	quote, err := h.quoteService.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if quote.UserID != currentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Quote not found",
			"code":    "QUOTE_NOT_FOUND",
		})
		return
	}

	status, err := h.settlementService.GetSettlementStatus(c.Request.Context(), quote.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    status,
	})
}
