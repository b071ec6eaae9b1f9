package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"callrelay.app/relay/internal/http/handler"
	"callrelay.app/relay/internal/http/handler/webhook"
	"callrelay.app/relay/internal/http/middleware"
	"callrelay.app/relay/internal/service"
)

type RouterConfig struct {
	AdminAPIKey  string
	StreamPrefix string
	// Redis backs the realtime stream; nil disables it.
	Redis *redis.Client
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := webhook.NewCallWebhookHandler(services.CallIngest())
	WebhookRouter(router.Group("/webhooks", middleware.WebhookRecovery()), webhookHandler)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
	{
		workflowHandler := handler.NewWorkflowHandler(services.Workflows(), services.Actions())
		WorkflowRouter(v1, workflowHandler)

		streamHandler := handler.NewCallStreamHandler(cfg.Redis, cfg.StreamPrefix)
		CallStreamRouter(v1.Group("/agencies"), streamHandler)
	}
}
