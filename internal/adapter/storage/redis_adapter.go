package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

const (
	fillRateKeyPrefix     = "fillrate:"
	idempotencyKeyPrefix  = "idempotency:"
	defaultIdempotencyTTL = 24 * time.Hour
)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

// NewRedisAdapter returns an adapter whose idempotency keys expire after ttl,
// or after 24h when ttl is not positive.
func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, idempotencyTTL: ttl}
}

func (r *RedisAdapter) GetFillRate(ctx context.Context, token string) ([]domain.FillRateRecord, bool, error) {
	raw, err := r.client.Get(ctx, fillRateKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var records []domain.FillRateRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("decode fill rate: %w", err)
	}
	return records, true, nil
}

func (r *RedisAdapter) SetFillRate(ctx context.Context, token string, records []domain.FillRateRecord, ttl time.Duration) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode fill rate: %w", err)
	}
	return r.client.Set(ctx, fillRateKeyPrefix+token, raw, ttl).Err()
}

func (r *RedisAdapter) InvalidateFillRate(ctx context.Context, token string) error {
	return r.client.Del(ctx, fillRateKeyPrefix+token).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}
