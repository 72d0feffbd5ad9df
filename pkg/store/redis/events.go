package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/store"
)

const defaultMaxEvents = 1000

// RedisEventLog keeps the most recent dispatch events in a capped Redis list.
type RedisEventLog struct {
	client    redis.UniversalClient
	key       string
	maxEvents int64
}

func NewRedisEventLog(client redis.UniversalClient, prefix string, maxEvents int) *RedisEventLog {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &RedisEventLog{
		client:    client,
		key:       prefix + ":events",
		maxEvents: int64(maxEvents),
	}
}

func (l *RedisEventLog) AppendEvent(ctx context.Context, evt *store.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, 0, l.maxEvents-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push event to %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisEventLog) ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error) {
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	values, err := l.client.LRange(ctx, l.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to LRANGE %s: %w", l.key, err)
	}

	events := make([]*store.Event, 0, len(values))
	for _, raw := range values {
		var evt store.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			log.WithError(err).WithField("key", l.key).Warn("skipping malformed event")
			continue
		}
		events = append(events, &evt)
	}
	return events, nil
}
