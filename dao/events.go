package dao

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"yarn-agent/model"
)

const (
	defaultEventsKey    = "yarn-agent:events"
	defaultEventsMaxLen = 10000
)

// RedisEventSink appends analytics events to a capped Redis list.
type RedisEventSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisEventSink(client *redis.Client, maxLen int64) *RedisEventSink {
	if maxLen <= 0 {
		maxLen = defaultEventsMaxLen
	}
	return &RedisEventSink{client: client, key: defaultEventsKey, maxLen: maxLen}
}

func (s *RedisEventSink) Append(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, -s.maxLen, -1)
		return nil
	})
	return err
}

// Recent returns up to n of the newest events, oldest first.
func (s *RedisEventSink) Recent(ctx context.Context, n int64) ([]model.Event, error) {
	raw, err := s.client.LRange(ctx, s.key, -n, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, r := range raw {
		var ev model.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
