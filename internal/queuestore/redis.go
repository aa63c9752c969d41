package queuestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"herald/internal/constants"
	"herald/pkg/models"
)

// decrIfExists keeps DECR from creating a TTL-less key after expiry.
var decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Name() string {
	return constants.BackendRedis
}

func (s *RedisStore) Push(ctx context.Context, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope %s: %w", env.ID, err)
	}
	if err := s.client.RPush(ctx, QueueKey(TierFor(env), env.TenantID), data).Err(); err != nil {
		return s.classify(ctx, "RPUSH", err)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, tenantID string, tier Tier) (*models.Envelope, error) {
	data, err := s.client.LPop(ctx, QueueKey(tier, tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, s.classify(ctx, "LPOP", err)
	}
	return decodeEnvelope(data)
}

func (s *RedisStore) Len(ctx context.Context, tenantID string, tier Tier) (int, error) {
	n, err := s.client.LLen(ctx, QueueKey(tier, tenantID)).Result()
	if err != nil {
		return 0, s.classify(ctx, "LLEN", err)
	}
	return int(n), nil
}

func (s *RedisStore) List(ctx context.Context, tenantID string, tier Tier, limit int) ([]*models.Envelope, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, QueueKey(tier, tenantID), 0, stop).Result()
	if err != nil {
		return nil, s.classify(ctx, "LRANGE", err)
	}

	envs := make([]*models.Envelope, 0, len(raw))
	for _, item := range raw {
		env, err := decodeEnvelope([]byte(item))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *RedisStore) Remove(ctx context.Context, tenantID, messageID string) (*models.Envelope, error) {
	for _, tier := range Tiers {
		key := QueueKey(tier, tenantID)
		raw, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, s.classify(ctx, "LRANGE", err)
		}
		for _, item := range raw {
			env, err := decodeEnvelope([]byte(item))
			if err != nil || env.ID != messageID {
				continue
			}
			removed, err := s.client.LRem(ctx, key, 1, item).Result()
			if err != nil {
				return nil, s.classify(ctx, "LREM", err)
			}
			if removed == 0 {
				// popped by the worker between LRANGE and LREM
				return nil, ErrNotFound
			}
			return env, nil
		}
	}
	return nil, ErrNotFound
}

func (s *RedisStore) Clear(ctx context.Context, tenantID string) (int, error) {
	pipe := s.client.TxPipeline()
	lens := make([]*redis.IntCmd, 0, len(Tiers))
	for _, tier := range Tiers {
		lens = append(lens, pipe.LLen(ctx, QueueKey(tier, tenantID)))
		pipe.Del(ctx, QueueKey(tier, tenantID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.classify(ctx, "DEL", err)
	}

	total := 0
	for _, cmd := range lens {
		total += int(cmd.Val())
	}
	return total, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", s.classify(ctx, "GET", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return s.classify(ctx, "SET", err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, s.classify(ctx, "SETNX", err)
	}
	return ok, nil
}

func (s *RedisStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.classify(ctx, "INCR", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) error {
	if err := decrIfExists.Run(ctx, s.client, []string{key}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return s.classify(ctx, "DECR", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return s.classify(ctx, "DEL", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.classify(ctx, "PING", err)
	}
	return nil
}

// classify separates command errors reported by the server from connectivity
// loss. Only the latter becomes ErrUnavailable and triggers failover.
func (s *RedisStore) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("redis %s failed: %w", op, err)
	}
	return fmt.Errorf("%w: redis %s: %v", ErrUnavailable, op, err)
}

func decodeEnvelope(data []byte) (*models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode queued envelope: %w", err)
	}
	return &env, nil
}
