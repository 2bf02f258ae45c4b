package handlers

import (
	"net/http"

	"crosspay/internal/middleware"
	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthHandler authenticates wallets by signature and issues JWTs.
type AuthHandler struct {
	userService *services.UserService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(userService *services.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// LoginRequest is the POST /api/auth/login body. The signature covers
// the message built by services.BuildLoginMessage for the same chain,
// address, and timestamp.
type LoginRequest struct {
	Chain         string `json:"chain" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
	Timestamp     int64  `json:"timestamp" binding:"required"`
}

// LoginHandler handles POST /api/auth/login.
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), models.Chain(req.Chain), req.WalletAddress, req.Signature, req.Timestamp)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := middleware.IssueToken(user.ID, req.WalletAddress, req.Chain)
	if err != nil {
		logrus.WithError(err).Error("failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to issue token",
			"code":    "TOKEN_ISSUE_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"token":   token,
			"user_id": user.ID,
		},
	})
}
