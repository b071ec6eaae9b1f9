package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"callrelay.app/relay/internal/model"
)

// CallUpdate is the realtime message published after every persisted event.
type CallUpdate struct {
	Event      model.EventKind  `json:"event"`
	CallID     int64            `json:"call_id"`
	ExternalID string           `json:"external_id"`
	AgentID    *int64           `json:"agent_id,omitempty"`
	Status     model.CallStatus `json:"status"`
	Line       string           `json:"line,omitempty"`
	At         time.Time        `json:"at"`
}

// Broadcaster publishes call updates to dashboards.
type Broadcaster interface {
	Publish(ctx context.Context, agencyID int64, update CallUpdate) error
}

// StreamName is the Redis stream carrying an agency's call updates.
func StreamName(prefix string, agencyID int64) string {
	return fmt.Sprintf("%s:agency-%d", prefix, agencyID)
}

type redisBroadcaster struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisBroadcaster(client *redis.Client, prefix string, maxLen int64) Broadcaster {
	if prefix == "" {
		prefix = "call-events"
	}
	return &redisBroadcaster{client: client, prefix: prefix, maxLen: maxLen}
}

func (b *redisBroadcaster) Publish(ctx context.Context, agencyID int64, update CallUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal call update: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: StreamName(b.prefix, agencyID),
		Values: map[string]any{
			"event":       string(update.Event),
			"external_id": update.ExternalID,
			"payload":     string(payload),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish call update: %w", err)
	}
	return nil
}

type noopBroadcaster struct{}

// NewNoopBroadcaster discards updates; used when Redis is not configured.
func NewNoopBroadcaster() Broadcaster { return noopBroadcaster{} }

func (noopBroadcaster) Publish(ctx context.Context, agencyID int64, update CallUpdate) error {
	slog.DebugContext(ctx, "realtime broadcast disabled", "agency_id", agencyID, "event", update.Event)
	return nil
}
