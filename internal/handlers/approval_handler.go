package handlers

import (
	"net/http"

	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ApprovalHandler handles spending approval API requests.
type ApprovalHandler struct {
	approvalService *services.ApprovalService
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(approvalService *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

// CreateApprovalRequest is the POST /api/approvals body.
type CreateApprovalRequest struct {
	QuoteID       string `json:"quote_id" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	GasAmount     string `json:"gas_amount"`
}

// CreateApprovalHandler handles POST /api/approvals. The response carries
// the exact message the wallet must sign.
func (h *ApprovalHandler) CreateApprovalHandler(c *gin.Context) {
	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	gas := decimal.Zero
	if req.GasAmount != "" {
		parsed, err := decimal.NewFromString(req.GasAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "gas_amount must be a decimal string",
			})
			return
		}
		gas = parsed
	}

	result, err := h.approvalService.CreateApproval(c.Request.Context(), services.CreateApprovalInput{
		QuoteID:       req.QuoteID,
		UserID:        currentUserID(c),
		WalletAddress: req.WalletAddress,
		GasAmount:     gas,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result,
	})
}

// SubmitApprovalRequest is the POST /api/approvals/:id/submit body.
type SubmitApprovalRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
	Message       string `json:"message" binding:"required"`
	Nonce         string `json:"nonce" binding:"required"`
}

// SubmitApprovalHandler handles POST /api/approvals/:id/submit.
func (h *ApprovalHandler) SubmitApprovalHandler(c *gin.Context) {
	var req SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.approvalService.SubmitApproval(c.Request.Context(), services.SubmitApprovalInput{
		ApprovalID:    c.Param("id"),
		WalletAddress: req.WalletAddress,
		Signature:     req.Signature,
		Message:       req.Message,
		Nonce:         req.Nonce,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetApprovalHandler handles GET /api/approvals/:id.
func (h *ApprovalHandler) GetApprovalHandler(c *gin.Context) {
	approval, err := h.approvalService.GetApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if approval.UserID != currentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Approval not found",
			"code":    "APPROVAL_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    approval,
	})
}

// ListApprovalsHandler handles GET /api/approvals.
func (h *ApprovalHandler) ListApprovalsHandler(c *gin.Context) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)

	approvals, total, err := h.approvalService.ListApprovals(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"approvals": approvals,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}
