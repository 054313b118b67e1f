package infrastructure

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitovidale/video-pipeline/infrastructure/push"
	"go.uber.org/zap"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	JWTSecret     []byte
	WebhookSecret string

	Videos        *VideoHandlers
	Credits       *CreditHandlers
	Notifications *NotificationHandlers
	Webhooks      *WebhookHandlers

	Hub      *push.Hub
	Gatherer prometheus.Gatherer
	Database HealthCheck
	RabbitMQ HealthCheck
	Log      *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Log), ErrorHandlingMiddleware())

	router.GET("/health", healthHandler(cfg))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Video Pipeline Service is running!"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/")
	api.Use(AuthMiddleware(cfg.JWTSecret))
	{
		api.POST("/videos/uploads", cfg.Videos.InitiateUploadHandler)
		api.POST("/videos/:id/upload-complete", cfg.Videos.CompleteUploadHandler)
		api.GET("/videos", cfg.Videos.ListVideosHandler)
		api.GET("/videos/:id", cfg.Videos.GetVideoHandler)
		api.POST("/videos/:id/archive", cfg.Videos.ArchiveVideoHandler)
		api.DELETE("/videos/:id/original", cfg.Videos.DeleteOriginalHandler)

		api.GET("/credits/balance", cfg.Credits.BalanceHandler)
		api.GET("/credits/transactions", cfg.Credits.TransactionsHandler)
		api.POST("/credits/charge", cfg.Credits.ChargeHandler)
		api.GET("/credits/cost", cfg.Credits.CostHandler)
		api.POST("/credits/transactions/:id/annotate", cfg.Credits.AnnotateHandler)

		api.GET("/notifications", cfg.Notifications.ListHandler)
		api.GET("/notifications/unread-count", cfg.Notifications.UnreadCountHandler)
		api.POST("/notifications/:id/read", cfg.Notifications.MarkReadHandler)
		api.POST("/notifications/read-all", cfg.Notifications.MarkAllReadHandler)
		api.GET("/notifications/stream", cfg.Notifications.StreamHandler)
		api.POST("/notifications/stream/disconnect", cfg.Notifications.DisconnectHandler)
	}

	hooks := router.Group("/webhooks/processing")
	hooks.Use(WebhookAuthMiddleware(cfg.WebhookSecret))
	{
		hooks.POST("/started", cfg.Webhooks.StartedHandler)
		hooks.POST("/progress", cfg.Webhooks.ProgressHandler)
		hooks.POST("/completed", cfg.Webhooks.CompletedHandler)
		hooks.POST("/failed", cfg.Webhooks.FailedHandler)
	}
	return router
}

func healthHandler(cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := probe(ctx, cfg.Database)
		rabbitMQStatus := probe(ctx, cfg.RabbitMQ)
		connections := 0
		if cfg.Hub != nil {
			connections = cfg.Hub.Count()
		}

		status, code := "UP", http.StatusOK
		if dbStatus != "connected" || rabbitMQStatus != "connected" {
			status, code = "DOWN", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status,
			"database":    dbStatus,
			"rabbitmq":    rabbitMQStatus,
			"connections": connections,
		})
	}
}

func probe(ctx context.Context, check HealthCheck) string {
	if check == nil {
		return "disconnected"
	}
	if err := check(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "connected"
}
