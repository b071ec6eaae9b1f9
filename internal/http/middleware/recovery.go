package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/dto"
)

// Recovery answers a panicking handler with 500.
func Recovery() gin.HandlerFunc {
	return recoverWith(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// WebhookRecovery acknowledges a delivery whose processing panicked, the same
// way any other ingest failure is acknowledged. Mount it on the webhook group.
func WebhookRecovery() gin.HandlerFunc {
	return recoverWith(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusOK, dto.WebhookAck{Received: true, Warning: "processing error"})
	})
}

func recoverWith(respond func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			slog.ErrorContext(c.Request.Context(), "panic recovered",
				"error", r,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond(c)
		}()
		c.Next()
	}
}
