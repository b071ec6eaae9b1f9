package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"callrelay.app/relay/internal/http/dto"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/signature"
)

// MaxBodyBytes bounds a webhook body. End-of-call reports carry the full
// transcript, so this sits well above the stored transcript cap.
const MaxBodyBytes = 4 << 20

type CallWebhookHandler struct {
	ingest service.CallIngestService
}

func NewCallWebhookHandler(ingest service.CallIngestService) *CallWebhookHandler {
	return &CallWebhookHandler{ingest: ingest}
}

// For returns the receiver for one provider. Only a rejected signature is
// answered with a non-2xx status; everything else is acknowledged so the
// provider does not redeliver into an internal failure.
func (h *CallWebhookHandler) For(provider model.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
		if err != nil {
			slog.WarnContext(ctx, "failed to read webhook body", "provider", provider, "error", err)
			c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Warning: "unreadable body"})
			return
		}

		result, err := h.ingest.Ingest(ctx, provider, body, c.Request.Header)
		ack := dto.WebhookAck{Received: true}
		if result != nil {
			ack.Warning = result.Warning
		}

		switch {
		case err == nil:
		case errors.Is(err, signature.ErrInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		case errors.Is(err, service.ErrUnknownAgent), errors.Is(err, normalizer.ErrUnsupportedEvent):
			slog.DebugContext(ctx, "webhook ignored", "provider", provider, "reason", err)
		case errors.Is(err, normalizer.ErrMalformed):
			slog.WarnContext(ctx, "malformed webhook", "provider", provider, "error", err)
			ack.Warning = "malformed payload"
		case errors.Is(err, service.ErrPersistence):
			slog.ErrorContext(ctx, "webhook not persisted", "provider", provider, "error", err)
		default:
			slog.ErrorContext(ctx, "webhook processing failed", "provider", provider, "error", err)
			if ack.Warning == "" {
				ack.Warning = "processing error"
			}
		}
		c.JSON(http.StatusOK, ack)
	}
}
