package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

// RedisStore хранит добавленных пользователей в множествах Redis.
type RedisStore struct {
	client *redis.Client
}

var _ domain.AtomicDedupStore = (*RedisStore)(nil)

// NewRedis создаёт хранилище.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IsMember проверяет наличие пользователя в множестве.
func (s *RedisStore) IsMember(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	start := time.Now()
	ok, err := s.client.SIsMember(ctx, key.String(), strconv.FormatInt(userID, 10)).Result()
	metrics.ObserveNetworkRequest("redis", "sismember", "dedup", start, err)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// AddMember добавляет пользователя в множество.
func (s *RedisStore) AddMember(ctx context.Context, key domain.DedupKey, userID int64) error {
	_, err := s.AddIfAbsent(ctx, key, userID)
	return err
}

// AddIfAbsent полагается на атомарность SADD: 1 означает, что элемента не было.
func (s *RedisStore) AddIfAbsent(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	start := time.Now()
	n, err := s.client.SAdd(ctx, key.String(), strconv.FormatInt(userID, 10)).Result()
	metrics.ObserveNetworkRequest("redis", "sadd", "dedup", start, err)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}
