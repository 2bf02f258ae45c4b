package handlers

import (
	"net/http"

	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
)

// RiskHandler exposes risk state and the admin breaker controls.
type RiskHandler struct {
	riskService *services.RiskService
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(riskService *services.RiskService) *RiskHandler {
	return &RiskHandler{riskService: riskService}
}

// ChainStatusHandler handles GET /api/risk/:chain/status.
func (h *RiskHandler) ChainStatusHandler(c *gin.Context) {
	chain := models.Chain(c.Param("chain"))
	asset := c.Query("asset")
	if asset == "" {
		asset = "USDT"
	}

	status, err := h.riskService.ChainStatus(c.Request.Context(), chain, asset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    status,
	})
}

// TripBreakerRequest is the POST /api/admin/breaker/:chain/trip body.
type TripBreakerRequest struct {
	Reason      string `json:"reason" binding:"required"`
	TriggeredBy string `json:"triggered_by" binding:"required"`
}

// TripBreakerHandler handles POST /api/admin/breaker/:chain/trip.
func (h *RiskHandler) TripBreakerHandler(c *gin.Context) {
	var req TripBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	state, err := h.riskService.TripBreaker(c.Request.Context(), models.Chain(c.Param("chain")), req.Reason, req.TriggeredBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    state,
	})
}

// ResetBreakerRequest is the POST /api/admin/breaker/:chain/reset body.
type ResetBreakerRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
}

// ResetBreakerHandler handles POST /api/admin/breaker/:chain/reset.
func (h *RiskHandler) ResetBreakerHandler(c *gin.Context) {
	var req ResetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resolved, err := h.riskService.ResetBreaker(c.Request.Context(), models.Chain(c.Param("chain")), req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	if !resolved {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Circuit breaker is not tripped",
			"code":    "BREAKER_NOT_TRIPPED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Circuit breaker reset",
	})
}
