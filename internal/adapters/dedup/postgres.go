package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS mirror_added_members (
	dedup_key TEXT NOT NULL,
	user_id BIGINT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dedup_key, user_id)
)`

// pgExecutor: часть pgxpool.Pool, нужная хранилищу.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore хранит добавленных пользователей в таблице mirror_added_members.
type PostgresStore struct {
	db pgExecutor
}

var _ domain.AtomicDedupStore = (*PostgresStore)(nil)

// NewPostgres создаёт хранилище и при необходимости таблицу.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create mirror_added_members: %w", err)
	}
	return newPostgresStore(pool), nil
}

func newPostgresStore(db pgExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

// IsMember проверяет наличие записи.
func (s *PostgresStore) IsMember(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	var exists bool
	start := time.Now()
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM mirror_added_members WHERE dedup_key = $1 AND user_id = $2)
`, key.String(), userID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "dedup_is_member", "mirror_added_members", start, err)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return exists, nil
}

// AddMember сохраняет запись; повторная вставка не является ошибкой.
func (s *PostgresStore) AddMember(ctx context.Context, key domain.DedupKey, userID int64) error {
	_, err := s.AddIfAbsent(ctx, key, userID)
	return err
}

// AddIfAbsent вставляет запись и сообщает, была ли она новой.
func (s *PostgresStore) AddIfAbsent(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	start := time.Now()
	tag, err := s.db.Exec(ctx, `
INSERT INTO mirror_added_members (dedup_key, user_id)
VALUES ($1, $2)
ON CONFLICT (dedup_key, user_id) DO NOTHING
`, key.String(), userID)
	metrics.ObserveNetworkRequest("postgres", "dedup_add", "mirror_added_members", start, err)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}
