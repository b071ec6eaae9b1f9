package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"callrelay.app/relay/common/logger"
)

// Logger logs each request once it completes. Routes in quiet (matched by
// full route, e.g. "/health") only log when they fail. An SSE stream logs
// when the client disconnects.
func Logger(quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, route := range quiet {
		skip[route] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "relay.http"})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if _, ok := skip[route]; ok && status < 400 {
			return
		}

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			attrs = append(attrs, "user_agent", ua)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "http request", attrs...)
	}
}
