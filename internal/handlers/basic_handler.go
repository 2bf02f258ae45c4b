package handlers

import (
	"net/http"
	"time"

	"crosspay/internal/db"
	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
)

// BasicHandler serves health and readiness endpoints.
type BasicHandler struct {
	riskService *services.RiskService
	startedAt   time.Time
}

// NewBasicHandler creates a BasicHandler.
func NewBasicHandler(riskService *services.RiskService) *BasicHandler {
	return &BasicHandler{
		riskService: riskService,
		startedAt:   time.Now().UTC(),
	}
}

// HealthHandler handles GET /health.
func (h *BasicHandler) HealthHandler(c *gin.Context) {
	dbStatus := "ok"
	if sqlDB, err := db.DB.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "unavailable"
	}

	breakers := map[string]bool{}
	for _, chain := range models.AllChains() {
		status, err := h.riskService.ChainStatus(c.Request.Context(), chain, "USDT")
		if err != nil {
			continue
		}
		breakers[string(chain)] = status.Tripped
	}

	code := http.StatusOK
	if dbStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    dbStatus,
		"uptime":    time.Since(h.startedAt).String(),
		"breakers":  breakers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
