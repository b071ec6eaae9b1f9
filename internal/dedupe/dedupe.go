// Package dedupe claims one-shot work keys so duplicate provider deliveries
// do not repeat side effects.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers provider redelivery windows.
const DefaultTTL = 24 * time.Hour

// Claimer returns true for the first caller to claim key within the TTL.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Key joins parts into a namespaced claim key.
func Key(kind string, parts ...any) string {
	key := "claim:" + kind
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}

type redisClaimer struct {
	client   *redis.Client
	ttl      time.Duration
	fallback *Memory
}

// NewRedis claims keys with SET NX EX. When Redis is unreachable claims fall
// back to process memory so automation keeps running on a single instance.
func NewRedis(client *redis.Client, ttl time.Duration) Claimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisClaimer{client: client, ttl: ttl, fallback: NewMemory(ttl)}
}

func (c *redisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		slog.WarnContext(ctx, "redis claim failed, using in-process claim", "key", key, "error", err)
		return c.fallback.Claim(ctx, key)
	}
	return ok, nil
}

// Memory is an in-process Claimer. Expired keys are swept lazily.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(m.claims) > 10000 {
		for k, exp := range m.claims {
			if !now.Before(exp) {
				delete(m.claims, k)
			}
		}
	}
	m.claims[key] = now.Add(m.ttl)
	return true, nil
}

// Always claims every key. Used where deduplication is disabled.
type Always struct{}

func (Always) Claim(context.Context, string) (bool, error) { return true, nil }
