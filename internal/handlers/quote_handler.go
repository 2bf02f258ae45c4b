package handlers

import (
	"net/http"

	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// QuoteHandler handles quote lifecycle API requests.
type QuoteHandler struct {
	quoteService *services.QuoteService
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quoteService *services.QuoteService) *QuoteHandler {
	return &QuoteHandler{quoteService: quoteService}
}

// CreateQuoteRequest is the POST /api/quotes body.
type CreateQuoteRequest struct {
	FundingChain          string `json:"funding_chain" binding:"required"`
	FundingAsset          string `json:"funding_asset" binding:"required"`
	ExecutionChain        string `json:"execution_chain" binding:"required"`
	ExecutionAsset        string `json:"execution_asset" binding:"required"`
	ExecutionCost         string `json:"execution_cost" binding:"required"`
	ExecutionInstructions []byte `json:"execution_instructions"`
}

// CreateQuoteHandler handles POST /api/quotes.
func (h *QuoteHandler) CreateQuoteHandler(c *gin.Context) {
	var req CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	cost, err := decimal.NewFromString(req.ExecutionCost)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "execution_cost must be a decimal string",
		})
		return
	}

	quote, err := h.quoteService.CreateQuote(c.Request.Context(), services.CreateQuoteInput{
		UserID:                currentUserID(c),
		FundingChain:          models.Chain(req.FundingChain),
		FundingAsset:          req.FundingAsset,
		ExecutionChain:        models.Chain(req.ExecutionChain),
		ExecutionAsset:        req.ExecutionAsset,
		ExecutionCost:         cost,
		ExecutionInstructions: req.ExecutionInstructions,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    quote,
	})
}

// GetQuoteHandler handles GET /api/quotes/:id.
func (h *QuoteHandler) GetQuoteHandler(c *gin.Context) {
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
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    quote,
	})
}

// ListQuotesHandler handles GET /api/quotes.
func (h *QuoteHandler) ListQuotesHandler(c *gin.Context) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)

	quotes, total, err := h.quoteService.ListQuotes(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"quotes":    quotes,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// ExpireQuotesHandler handles POST /api/admin/quotes/expire. It runs the
// same sweep as the background service, for operators who want an
// immediate pass.
func (h *QuoteHandler) ExpireQuotesHandler(c *gin.Context) {
	count, err := h.quoteService.ExpireStaleQuotes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"expired": count},
	})
}

// CommitQuoteHandler handles POST /api/quotes/:id/commit.
func (h *QuoteHandler) CommitQuoteHandler(c *gin.Context) {
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

	result, err := h.quoteService.CommitQuote(c.Request.Context(), quote.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
