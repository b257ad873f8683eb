package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

// Postgres хранит пул MTProto-аккаунтов, их сессии и отчёты о запусках.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.MirrorRunRepo = (*Postgres)(nil)

const defaultPool = "default"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mtproto_accounts (
    pool TEXT NOT NULL,
    name TEXT NOT NULL,
    api_id INTEGER NOT NULL,
    api_hash TEXT NOT NULL,
    phone TEXT,
    username TEXT,
    raw_json JSONB,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (pool, name)
)`,
	`CREATE TABLE IF NOT EXISTS mtproto_sessions (
    name TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS mirror_runs (
    id UUID PRIMARY KEY,
    campaign TEXT NOT NULL,
    mode TEXT NOT NULL,
    source_ref TEXT NOT NULL,
    dest_ref TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    sessions INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    added INTEGER NOT NULL,
    outcomes JSONB NOT NULL
)`,
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// LoadMTProtoSession загружает сессию по имени аккаунта.
// Отсутствие записи возвращается как session.ErrNotFound.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, nil)
		return nil, session.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", name, err)
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession сохраняет сессию; gotd вызывает его после каждой смены ключей.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, append([]byte(nil), data...))
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	if err != nil {
		return fmt.Errorf("store session %q: %w", name, err)
	}
	return nil
}

// ListMTProtoAccounts возвращает аккаунты пула, у которых есть сохранённая сессия.
func (p *Postgres) ListMTProtoAccounts(ctx context.Context, pool string) ([]domain.MTProtoAccount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if pool == "" {
		pool = defaultPool
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT a.name, a.pool, a.api_id, a.api_hash, a.phone, a.username, a.raw_json
FROM mtproto_accounts a
JOIN mtproto_sessions s ON s.name = a.name
WHERE a.pool = $1
ORDER BY a.name
`, pool)
	metrics.ObserveNetworkRequest("postgres", "mtproto_accounts_list", "mtproto_accounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.MTProtoAccount
	for rows.Next() {
		var (
			account         domain.MTProtoAccount
			phone, username sql.NullString
			rawJSON         []byte
		)
		if err := rows.Scan(&account.Name, &account.Pool, &account.APIID, &account.APIHash, &phone, &username, &rawJSON); err != nil {
			return nil, err
		}
		account.Phone = phone.String
		account.Username = username.String
		if len(rawJSON) > 0 {
			account.RawJSON = append([]byte(nil), rawJSON...)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpsertMTProtoAccount добавляет аккаунт в пул или обновляет его.
func (p *Postgres) UpsertMTProtoAccount(ctx context.Context, account domain.MTProtoAccount) error {
	if account.Name == "" || account.APIID == 0 || account.APIHash == "" {
		return fmt.Errorf("account name, api_id and api_hash are required")
	}
	if account.Pool == "" {
		account.Pool = defaultPool
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var rawJSON any
	if len(account.RawJSON) > 0 {
		rawJSON = account.RawJSON
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_accounts (pool, name, api_id, api_hash, phone, username, raw_json, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, now())
ON CONFLICT (pool, name) DO UPDATE
SET api_id = EXCLUDED.api_id,
    api_hash = EXCLUDED.api_hash,
    phone = EXCLUDED.phone,
    username = EXCLUDED.username,
    raw_json = EXCLUDED.raw_json,
    updated_at = now()
`, account.Pool, account.Name, account.APIID, account.APIHash, account.Phone, account.Username, rawJSON)
	metrics.ObserveNetworkRequest("postgres", "mtproto_accounts_upsert", "mtproto_accounts", start, err)
	if err != nil {
		return fmt.Errorf("upsert account %q: %w", account.Name, err)
	}
	return nil
}

type outcomeRow struct {
	Session     string               `json:"session"`
	State       string               `json:"state"`
	SourceID    int64                `json:"source_id,omitempty"`
	Destination int64                `json:"destination_id,omitempty"`
	Stats       domain.PipelineStats `json:"stats"`
	Error       string               `json:"error,omitempty"`
}

// SaveMirrorRun сохраняет итог запуска вместе с результатами всех сессий.
func (p *Postgres) SaveMirrorRun(ctx context.Context, run domain.MirrorRun) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", run.ID, err)
	}

	rows := make([]outcomeRow, 0, len(run.Outcomes))
	failed, added := 0, 0
	for _, o := range run.Outcomes {
		row := outcomeRow{
			Session:     o.Session,
			State:       string(o.State),
			SourceID:    o.Endpoint.Source.ID,
			Destination: o.Endpoint.Destination.ID,
			Stats:       o.Stats,
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		if o.State == domain.PipelineFailed {
			failed++
		}
		added += o.Stats.Added
		rows = append(rows, row)
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO mirror_runs (id, campaign, mode, source_ref, dest_ref, started_at, finished_at, sessions, failed, added, outcomes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET finished_at = EXCLUDED.finished_at,
    sessions = EXCLUDED.sessions,
    failed = EXCLUDED.failed,
    added = EXCLUDED.added,
    outcomes = EXCLUDED.outcomes
`, id, run.Campaign, run.Mode.String(), run.SourceRef, run.DestRef, run.StartedAt, run.FinishedAt, len(run.Outcomes), failed, added, payload)
	metrics.ObserveNetworkRequest("postgres", "mirror_runs_save", "mirror_runs", start, err)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}
