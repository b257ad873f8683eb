package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

const (
	defaultMaxAddCount     = 50
	defaultRetries         = 3
	defaultSleepInterval   = 5 * time.Second
	defaultRateLimitMargin = time.Second
)

// Feed открывает новый цикл извлечения. stop отменяет extractor, если он ещё работает,
// и дожидается его завершения.
type Feed func(ctx context.Context) (handles <-chan domain.UserHandle, stop func(), err error)

type batchSubmitter interface {
	SubmitBatch(ctx context.Context, chat domain.Chat, batch domain.Batch) domain.SubmitResult
}

// InserterConfig задаёт лимиты вставки.
type InserterConfig struct {
	Campaign        string
	KeyPrefix       string
	MaxAddCount     int
	Retries         int
	SleepInterval   time.Duration
	RateLimitMargin time.Duration
}

func (c InserterConfig) withDefaults() InserterConfig {
	if c.MaxAddCount <= 0 {
		c.MaxAddCount = defaultMaxAddCount
	}
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	if c.SleepInterval <= 0 {
		c.SleepInterval = defaultSleepInterval
	}
	if c.RateLimitMargin <= 0 {
		c.RateLimitMargin = defaultRateLimitMargin
	}
	return c
}

// Inserter фильтрует пользователей через хранилище дедупликации,
// собирает пачки и отправляет их в целевой чат.
type Inserter struct {
	session string
	client  batchSubmitter
	store   domain.DedupStore
	guard   *KeyedMutex
	cfg     InserterConfig
	log     zerolog.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	onState  func(domain.PipelineState)
	onStats  func(domain.PipelineStats)
	curState domain.PipelineState
}

// NewInserter создаёт inserter. guard общий для всех конвейеров запуска.
func NewInserter(session string, client batchSubmitter, store domain.DedupStore, guard *KeyedMutex, cfg InserterConfig, log zerolog.Logger) *Inserter {
	if guard == nil {
		guard = NewKeyedMutex()
	}
	return &Inserter{
		session: session,
		client:  client,
		store:   store,
		guard:   guard,
		cfg:     cfg.withDefaults(),
		log:     log,
		sleep:   sleepContext,
	}
}

// Run вставляет пользователей из feed до конца потока (OnePass)
// или до отмены контекста (Continuous).
func (in *Inserter) Run(ctx context.Context, dest domain.Chat, feed Feed, mode domain.RunMode) (domain.PipelineStats, error) {
	key := domain.DedupKey{Prefix: in.cfg.KeyPrefix, Campaign: in.cfg.Campaign, ChatID: dest.ID}
	var stats domain.PipelineStats

	for {
		handles, stop, err := feed(ctx)
		switch {
		case err != nil && mode == domain.RunModeOnePass:
			return stats, err
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			in.log.Warn().Err(err).Msg("mirror: цикл пропущен, источник недоступен")
		default:
			stats.Cycles++
			err = in.drain(ctx, key, dest, handles, &stats)
			stop()
			in.publish(stats)
			if err != nil {
				return stats, err
			}
		}

		if mode == domain.RunModeOnePass {
			return stats, nil
		}
		in.setState(domain.PipelineIdle)
		in.log.Debug().Dur("sleep", in.cfg.SleepInterval).Msg("mirror: ждём следующего прохода")
		if err := in.sleep(ctx, in.cfg.SleepInterval); err != nil {
			return stats, err
		}
	}
}

func (in *Inserter) drain(ctx context.Context, key domain.DedupKey, dest domain.Chat, handles <-chan domain.UserHandle, stats *domain.PipelineStats) error {
	batch := make(domain.Batch, 0, in.cfg.MaxAddCount)
	in.setState(domain.PipelineExtracting)
	for {
		var (
			handle domain.UserHandle
			ok     bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case handle, ok = <-handles:
		}
		if !ok {
			if len(batch) == 0 {
				return nil
			}
			in.setState(domain.PipelineDraining)
			return in.submit(ctx, dest, batch, stats)
		}

		stats.Extracted++
		fresh, err := in.claim(ctx, key, handle.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				in.log.Error().Err(err).Str("key", key.String()).Msg("mirror: хранилище дедупликации недоступно, вставка остановлена")
			}
			return err
		}
		if !fresh {
			stats.Duplicates++
			metrics.DedupHits.WithLabelValues(in.session).Inc()
			continue
		}

		batch = append(batch, handle)
		if len(batch) < in.cfg.MaxAddCount {
			continue
		}
		in.setState(domain.PipelineInserting)
		if err := in.submit(ctx, dest, batch, stats); err != nil {
			return err
		}
		in.publish(*stats)
		batch = make(domain.Batch, 0, in.cfg.MaxAddCount)
		in.setState(domain.PipelineExtracting)
	}
}

// claim отмечает пользователя добавленным до фактического приглашения:
// повторная отправка опаснее недосчёта.
func (in *Inserter) claim(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	if atomic, ok := in.store.(domain.AtomicDedupStore); ok {
		added, err := atomic.AddIfAbsent(ctx, key, userID)
		return added, storeErr(ctx, err)
	}

	unlock := in.guard.Lock(key.String())
	defer unlock()
	member, err := in.store.IsMember(ctx, key, userID)
	if err != nil {
		return false, storeErr(ctx, err)
	}
	if member {
		return false, nil
	}
	if err := in.store.AddMember(ctx, key, userID); err != nil {
		return false, storeErr(ctx, err)
	}
	return true, nil
}

// storeErr отличает остановку конвейера от недоступности хранилища:
// запрос, прерванный отменой контекста, не считается отказом хранилища.
func storeErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// submit отправляет пачку один раз; повторяется только вызов при FLOOD_WAIT.
// Ошибки платформы не прерывают конвейер, наружу уходит лишь отмена контекста.
func (in *Inserter) submit(ctx context.Context, dest domain.Chat, batch domain.Batch, stats *domain.PipelineStats) error {
	stats.Batches++
	stats.Attempted += len(batch)
	log := in.log.With().Int64("chat", dest.ID).Int("batch", stats.Batches).Int("size", len(batch)).Logger()

	for attempt := 1; attempt <= in.cfg.Retries; attempt++ {
		res := in.client.SubmitBatch(ctx, dest, batch)
		metrics.BatchesSubmitted.WithLabelValues(in.session, string(res.Status)).Inc()

		switch res.Status {
		case domain.SubmitOK, domain.SubmitAlreadyMember:
			stats.Added += res.Added
			metrics.UsersAdded.WithLabelValues(in.session).Add(float64(res.Added))
			log.Info().Int("added", res.Added).Int("attempt", attempt).Msgf("mirror: добавлено %d/%d", res.Added, len(batch))
			return nil
		case domain.SubmitRateLimited:
			if attempt == in.cfg.Retries {
				log.Warn().Dur("retry_after", res.RetryAfter).Msg("mirror: FLOOD_WAIT на последней попытке")
				continue
			}
			wait := res.RetryAfter + in.cfg.RateLimitMargin
			metrics.RateLimitWait.WithLabelValues(in.session).Observe(wait.Seconds())
			log.Warn().Dur("wait", wait).Int("attempt", attempt).Msg("mirror: FLOOD_WAIT, повторим пачку")
			if err := in.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Abandoned += len(batch)
			log.Error().Err(res.Err).Int("attempt", attempt).Msg("mirror: ошибка платформы, пачка пропущена")
			return nil
		}
	}

	stats.Abandoned += len(batch)
	log.Error().Int("retries", in.cfg.Retries).Msg("mirror: лимит повторов исчерпан, пачка пропущена")
	return nil
}

func (in *Inserter) setState(state domain.PipelineState) {
	if in.curState == state {
		return
	}
	in.curState = state
	if in.onState != nil {
		in.onState(state)
	}
}

func (in *Inserter) publish(stats domain.PipelineStats) {
	if in.onStats != nil {
		in.onStats(stats)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
