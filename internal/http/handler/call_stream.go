package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"callrelay.app/relay/internal/service"
)

const streamBlock = 25 * time.Second

// CallStreamHandler relays an agency's realtime call updates as server-sent events.
type CallStreamHandler struct {
	redis  *redis.Client
	prefix string
}

func NewCallStreamHandler(redisClient *redis.Client, streamPrefix string) *CallStreamHandler {
	return &CallStreamHandler{redis: redisClient, prefix: streamPrefix}
}

func (h *CallStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime updates not configured"})
		return
	}

	agencyID, err := strconv.ParseInt(c.Param("agency_id"), 10, 64)
	if err != nil || agencyID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agency_id"})
		return
	}

	stream := service.StreamName(h.prefix, agencyID)
	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		lastID = c.Query("last_id")
	}
	if lastID == "" {
		lastID = "$"
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	sseWrite(c.Writer, "", "ping", "ready")
	flusher.Flush()

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   streamBlock,
			Count:   100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				sseWrite(c.Writer, "", "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "call stream read failed", "stream", stream, "error", err)
			sseWrite(c.Writer, "", "error", map[string]string{"error": "stream unavailable"})
			flusher.Flush()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				event, _ := msg.Values["event"].(string)
				if event == "" {
					event = "call"
				}
				sseWrite(c.Writer, msg.ID, event, msg.Values["payload"])
				flusher.Flush()
			}
		}
	}
}
