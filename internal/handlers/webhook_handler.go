package handlers

import (
	"net/http"
	"time"

	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WebhookHandler ingests chain observations over HTTP. These endpoints
// mirror the NATS subjects for deployments without a broker; the
// settlement service makes redelivery safe on both paths.
type WebhookHandler struct {
	settlementService *services.SettlementService
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(settlementService *services.SettlementService) *WebhookHandler {
	return &WebhookHandler{settlementService: settlementService}
}

// PaymentWebhookRequest is the POST /api/webhooks/payment body.
type PaymentWebhookRequest struct {
	Chain       string `json:"chain" binding:"required"`
	QuoteID     string `json:"quote_id" binding:"required"`
	FromAddress string `json:"from_address"`
	Amount      string `json:"amount" binding:"required"`
	TxHash      string `json:"tx_hash" binding:"required"`
	ObservedAt  int64  `json:"observed_at"`
}

// PaymentWebhookHandler handles POST /api/webhooks/payment.
func (h *WebhookHandler) PaymentWebhookHandler(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "amount must be a decimal string",
		})
		return
	}

	input := services.FundingPaymentInput{
		Chain:       models.Chain(req.Chain),
		QuoteID:     req.QuoteID,
		FromAddress: req.FromAddress,
		Amount:      amount,
		TxHash:      req.TxHash,
	}
	if req.ObservedAt > 0 {
		input.ObservedAt = time.Unix(req.ObservedAt, 0).UTC()
	}

	result, err := h.settlementService.RecordFundingPayment(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// ExecutionWebhookRequest is the POST /api/webhooks/execution body.
type ExecutionWebhookRequest struct {
	Chain   string `json:"chain"`
	QuoteID string `json:"quote_id" binding:"required"`
	TxHash  string `json:"tx_hash"`
	Success *bool  `json:"success" binding:"required"`
	Reason  string `json:"reason"`
	Amount  string `json:"amount"`
}

// ExecutionWebhookHandler handles POST /api/webhooks/execution.
func (h *WebhookHandler) ExecutionWebhookHandler(c *gin.Context) {
	var req ExecutionWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "amount must be a decimal string",
			})
			return
		}
		amount = parsed
	}

	outcome, err := h.settlementService.RecordExecutionResult(c.Request.Context(), services.ExecutionResultInput{
		Chain:   models.Chain(req.Chain),
		QuoteID: req.QuoteID,
		TxHash:  req.TxHash,
		Success: *req.Success,
		Reason:  req.Reason,
		Amount:  amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    outcome,
	})
}
