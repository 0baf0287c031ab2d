package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"dukani/backend/internal/domain"
)

const DefaultStream = "dukani:outbox"

// RedisStreamPublisher appends each event to a Redis stream, trimmed to
// roughly maxLen entries.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: streamValues(event),
	}).Err()
}

func streamValues(event domain.OutboxEvent) map[string]any {
	return map[string]any{
		"message_id": uuid.NewString(),
		"event_id":   strconv.FormatInt(event.ID, 10),
		"store_id":   strconv.FormatInt(event.StoreID, 10),
		"entity":     event.Entity,
		"entity_id":  strconv.FormatInt(event.EntityID, 10),
		"op":         event.Op,
		"payload":    event.Payload,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// LogPublisher discards events after logging them. It stands in for a real
// transport when no Redis is configured.
type LogPublisher struct {
	Logger interface {
		Debugf(format string, args ...any)
	}
}

func (p LogPublisher) Publish(_ context.Context, event domain.OutboxEvent) error {
	if p.Logger != nil {
		p.Logger.Debugf("outbox %d %s %s/%d", event.ID, event.Op, event.Entity, event.EntityID)
	}
	return nil
}
