package router

import (
	"strconv"
	"strings"
	"time"

	"crosspay/internal/app"
	"crosspay/internal/config"
	"crosspay/internal/metrics"
	"crosspay/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware applies the configured origin allowlist. An empty
// configuration allows all origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := false
		maxAge := 3600
		if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == "OPTIONS" {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Accept")
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// metricsMiddleware records request durations per route.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// SetupRouter builds the gin engine with all routes registered.
func SetupRouter(container *app.ServiceContainer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), metricsMiddleware())

	basicHandler := container.BasicHandler()
	r.GET("/health", basicHandler.HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/auth/login", container.AuthHandler().LoginHandler)

		// Chain observation ingestion. Mirrors the NATS subjects for
		// deployments without a broker.
		webhooks := api.Group("/webhooks")
		{
			webhookHandler := container.WebhookHandler()
			webhooks.POST("/payment", webhookHandler.PaymentWebhookHandler)
			webhooks.POST("/execution", webhookHandler.ExecutionWebhookHandler)
		}

		authed := api.Group("")
		authed.Use(middleware.RequireAuth())
		{
			quoteHandler := container.QuoteHandler()
			authed.POST("/quotes", quoteHandler.CreateQuoteHandler)
			authed.GET("/quotes", quoteHandler.ListQuotesHandler)
			authed.GET("/quotes/:id", quoteHandler.GetQuoteHandler)
			authed.POST("/quotes/:id/commit", quoteHandler.CommitQuoteHandler)
			authed.GET("/quotes/:id/settlement", container.SettlementHandler().GetSettlementStatusHandler)

			approvalHandler := container.ApprovalHandler()
			authed.POST("/approvals", approvalHandler.CreateApprovalHandler)
			authed.GET("/approvals", approvalHandler.ListApprovalsHandler)
			authed.GET("/approvals/:id", approvalHandler.GetApprovalHandler)
			authed.POST("/approvals/:id/submit", approvalHandler.SubmitApprovalHandler)

			authed.GET("/risk/:chain/status", container.RiskHandler().ChainStatusHandler)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminOnly())
		{
			riskHandler := container.RiskHandler()
			admin.POST("/breaker/:chain/trip", riskHandler.TripBreakerHandler)
			admin.POST("/breaker/:chain/reset", riskHandler.ResetBreakerHandler)
			admin.POST("/quotes/expire", container.QuoteHandler().ExpireQuotesHandler)
		}
	}

	return r
}
