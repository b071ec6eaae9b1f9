package router

import (
	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/handler"
)

func CallStreamRouter(rg *gin.RouterGroup, h *handler.CallStreamHandler) {
	rg.GET("/:agency_id/calls/stream", h.Stream)
}
