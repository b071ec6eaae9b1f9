package router

import (
	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/handler"
)

func WorkflowRouter(rg *gin.RouterGroup, h *handler.WorkflowHandler) {
	rg.POST("/workflows", h.Create)
	rg.GET("/calls/:external_id/executions", h.ListExecutions)
	rg.GET("/actions", h.ActionTypes)
	rg.GET("/actions/:type/schema", h.ActionSchema)
}
