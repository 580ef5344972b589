// Package publish fans simulation events out over Redis pub/sub so other
// processes can follow the world without polling the API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/events"
)

// DefaultPrefix namespaces every key and channel.
const DefaultPrefix = "statecraft"

// RecentLimit caps the rolling event list kept in Redis.
const RecentLimit = 500

// Message is one event as published on the channel.
type Message struct {
	Day     int    `json:"day"`
	Tag     string `json:"tag"`
	Line    string `json:"line"`
	Summary string `json:"summary"`
}

// Messages renders a day's events for publishing.
func Messages(day int, evs []events.Event) ([]Message, error) {
	out := make([]Message, 0, len(evs))
	for _, e := range evs {
		line, err := events.Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, Message{Day: day, Tag: e.Tag(), Line: line, Summary: e.Summary()})
	}
	return out, nil
}

// Redis publishes events and the latest status report.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to redisURL.
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(rdb, prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Channel is the pub/sub channel events go out on.
func (r *Redis) Channel() string { return r.prefix + ":events" }

func (r *Redis) statusKey() string { return r.prefix + ":status" }
func (r *Redis) recentKey() string { return r.prefix + ":recent" }

// PublishDay sends a day's events, appends them to the rolling list and
// replaces the stored status. All writes go out in one pipeline.
func (r *Redis) PublishDay(ctx context.Context, day int, evs []events.Event, status any) error {
	msgs, err := Messages(day, evs)
	if err != nil {
		return err
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		pipe.Publish(ctx, r.Channel(), raw)
		pipe.LPush(ctx, r.recentKey(), raw)
	}
	if len(msgs) > 0 {
		pipe.LTrim(ctx, r.recentKey(), 0, RecentLimit-1)
	}
	pipe.Set(ctx, r.statusKey(), statusJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish day %d: %w", day, err)
	}
	return nil
}

// Status returns the last stored status, or nil when none exists.
func (r *Redis) Status(ctx context.Context) (json.RawMessage, error) {
	data, err := r.rdb.Get(ctx, r.statusKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return json.RawMessage(data), nil
}

// Recent returns up to limit stored messages, newest first.
func (r *Redis) Recent(ctx context.Context, limit int) ([]Message, error) {
	raws, err := r.rdb.LRange(ctx, r.recentKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Subscribe delivers published messages to fn until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, fn func(Message)) {
	sub := r.rdb.Subscribe(ctx, r.Channel())
	defer sub.Close()

	log.Info().Str("channel", r.Channel()).Msg("event subscriber started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Warn().Err(err).Msg("dropping malformed event message")
				continue
			}
			fn(m)
		}
	}
}
