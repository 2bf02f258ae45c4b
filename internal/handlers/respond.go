package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"crosspay/internal/errs"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps a service error to an HTTP response. Typed errors
// carry their code and detail to the client; anything untyped is a 500
// with no internals leaked.
func respondError(c *gin.Context, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		body := gin.H{
			"success": false,
			"error":   e.Message,
			"code":    e.Code,
		}
		if len(e.Detail) > 0 {
			body["details"] = e.Detail
		}
		c.JSON(errs.HTTPStatus(err), body)
		return
	}

	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "Internal server error",
		"code":    "INTERNAL_ERROR",
	})
}

// currentUserID reads the authenticated user id set by the auth
// middleware.
func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
