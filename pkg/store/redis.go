package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// RedisStore implements DedupStore and ReplyContextStore on one Redis client.
// Check-and-mark uses SETNX so the race window between check and mark never
// exists, regardless of how many transport processes share the store.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps client with the given entry TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

// CheckAndMark atomically records updateID and reports prior sightings. Store
// errors are returned as-is; the caller must treat them as a hard failure, not
// as a cache miss.
func (s *RedisStore) CheckAndMark(ctx context.Context, updateID string) (bool, error) {
	inserted, err := s.client.SetNX(ctx, dedupKey(updateID), time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check-and-mark %s: %w", updateID, err)
	}

	return !inserted, nil
}

// Unmark deletes the dedup record for updateID.
func (s *RedisStore) Unmark(ctx context.Context, updateID string) error {
	if err := s.client.Del(ctx, dedupKey(updateID)).Err(); err != nil {
		return fmt.Errorf("dedup unmark %s: %w", updateID, err)
	}

	return nil
}

// Seen returns the first-sight timestamp recorded for updateID.
func (s *RedisStore) Seen(ctx context.Context, updateID string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, dedupKey(updateID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup get %s: %w", updateID, err)
	}

	seenAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup record for %s is corrupt: %w", updateID, err)
	}

	return seenAt, true, nil
}

// Save stores one inbound query envelope for later reply-context lookups.
func (s *RedisStore) Save(ctx context.Context, msg message.TransportMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode reply context %s: %w", msg.MessageID, err)
	}

	if err := s.client.Set(ctx, replyKey(msg.MessageID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("save reply context %s: %w", msg.MessageID, err)
	}

	return nil
}

// Load fetches a stored envelope by message id.
func (s *RedisStore) Load(ctx context.Context, messageID string) (*message.TransportMessage, error) {
	body, err := s.client.Get(ctx, replyKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reply context %s: %w", messageID, err)
	}

	var msg message.TransportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode reply context %s: %w", messageID, err)
	}

	return &msg, nil
}
