package middleware

import (
	"net"
	"net/http"

	"crosspay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminOnly restricts admin endpoints (breaker trip/reset) to the
// configured allowlist. Loopback is always allowed; entries may be plain
// IPs or CIDR ranges.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !adminIPAllowed(clientIP) {
			logrus.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      c.Request.URL.Path,
			}).Warn("admin access denied")
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Access restricted",
				"code":    "ADMIN_ACCESS_DENIED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func adminIPAllowed(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, allowed := range config.AppConfig.Admin.AllowedIPs {
		if _, cidr, err := net.ParseCIDR(allowed); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(ip) {
			return true
		}
	}
	return false
}
