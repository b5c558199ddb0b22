package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps conversation history in Redis sorted sets scored by
// creation time. Individual turns carry their own expires_at and are
// filtered on read; whole idle conversations age out via a key TTL set to
// the longest retention any tier can grant.
type RedisStore struct {
	client *redis.Client
	keyTTL time.Duration
}

func NewRedisStore(ctx context.Context, redisURL string, keyTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, storageErr("parse redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("ping redis", err)
	}
	if keyTTL <= 0 {
		keyTTL = 181 * 24 * time.Hour
	}
	return &RedisStore{client: client, keyTTL: keyTTL}, nil
}

func turnsKey(conversationKey string) string {
	return "chat:turns:" + conversationKey
}

func summaryKey(conversationKey string) string {
	return "chat:summary:" + conversationKey
}

func (s *RedisStore) Append(ctx context.Context, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return storageErr("marshal turn", err)
	}

	key := turnsKey(turn.ConversationKey)
	// A retried write serializes to the identical member, which ZADD
	// deduplicates, so Append stays idempotent per sequence token. The TTL
	// refresh rides the same pipeline and its failure fails the append:
	// a key silently left without TTL would outlive every retention tier,
	// and retrying the whole append is safe.
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(turn.CreatedAt.UTC().UnixMilli()),
		Member: string(data),
	})
	pipe.Expire(ctx, key, s.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return storageErr("append turn", err)
	}
	return nil
}

func (s *RedisStore) LoadRecent(ctx context.Context, conversationKey string, maxTurns int) ([]Turn, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}

	// Over-fetch a little so read-side expiry filtering still fills maxTurns.
	results, err := s.client.ZRevRangeByScore(ctx, turnsKey(conversationKey), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(maxTurns * 2),
	}).Result()
	if err != nil {
		return nil, storageErr("zrevrangebyscore turns", err)
	}

	now := time.Now().UTC()
	turns := make([]Turn, 0, maxTurns)
	for _, data := range results {
		var t Turn
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		if t.Expired(now) {
			continue
		}
		turns = append(turns, t)
		if len(turns) == maxTurns {
			break
		}
	}

	// Newest-first from Redis; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *RedisStore) LoadSummary(ctx context.Context, conversationKey string) (string, error) {
	val, err := s.client.Get(ctx, summaryKey(conversationKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get summary", err)
	}
	return val, nil
}

func (s *RedisStore) SaveSummary(ctx context.Context, conversationKey, summary string) error {
	if err := s.client.Set(ctx, summaryKey(conversationKey), summary, s.keyTTL).Err(); err != nil {
		return storageErr("set summary", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
