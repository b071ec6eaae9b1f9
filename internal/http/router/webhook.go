package router

import (
	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/handler/webhook"
	"callrelay.app/relay/internal/model"
)

func WebhookRouter(rg *gin.RouterGroup, h *webhook.CallWebhookHandler) {
	rg.POST("/retell", h.For(model.ProviderRetell))
	rg.POST("/vapi", h.For(model.ProviderVapi))
}
