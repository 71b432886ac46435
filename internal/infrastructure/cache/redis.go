package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

const keyPrefix = "petskin:diagnosis:"

// RedisCache кэш диагнозов по хэшу изображения
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache подключается к Redis и проверяет соединение.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get возвращает nil без ошибки, если ключа нет.
func (c *RedisCache) Get(ctx context.Context, key string) (*entity.Diagnosis, error) {
	b, err := c.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var d entity.Diagnosis
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode cached diagnosis: %w", err)
	}
	return &d, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, diagnosis entity.Diagnosis) error {
	b, err := json.Marshal(diagnosis)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(key), b, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Key полный ключ записи в Redis
func Key(hash string) string {
	return keyPrefix + hash
}

var _ port.DiagnosisCache = (*RedisCache)(nil)
