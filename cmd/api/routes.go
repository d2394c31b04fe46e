package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/httpapi"
	"callbridge/internal/ws"
	"callbridge/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic.
func registerRoutes(
	r *gin.Engine,
	cfg config.Config,
	h httpapi.Handlers,
	hub *ws.Hub,
	rdb *redis.Client,
	db *sql.DB,
	authManager *auth.Manager,
) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readinessHandler(db, rdb))

	hub.RegisterRoutes(r)

	var limiter httpapi.RateLimiter
	if rdb != nil {
		limiter = httpapi.NewRedisRateLimiter(rdb, cfg.App.RateLimitPerMinute, time.Minute)
	} else {
		limiter = httpapi.NewMemoryRateLimiter(cfg.App.RateLimitPerMinute, time.Minute)
	}

	api := r.Group("/api")
	api.Use(httpapi.RateLimit(limiter, h.Logger))
	{
		api.POST("/auth/login", h.Login)

		// Carrier webhooks stay open; Exotel does not send bearer tokens.
		exotelGroup := api.Group("/exotel")
		{
			exotelGroup.POST("/status", h.ExotelStatus)
			exotelGroup.POST("/connect", h.ExotelConnect)
		}

		// Dashboard call control; protected only when a dash secret is set.
		callGroup := api.Group("/call")
		callGroup.Use(auth.RequireOperator(authManager))
		{
			callGroup.POST("/start", h.StartCall)
			callGroup.GET("", h.ListCalls)
			callGroup.GET("/:id", h.GetCall)
		}
	}
}

func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
