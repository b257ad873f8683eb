package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tg-member-mirror/internal/domain"
)

// Options задаёт параметры запуска для всех конвейеров.
type Options struct {
	Inserter     InserterConfig
	QueueSize    int
	StartTimeout time.Duration
	MaxParallel  int
}

// Orchestrator запускает по одному конвейеру на сессию и собирает их итоги.
type Orchestrator struct {
	store   domain.DedupStore
	guard   *KeyedMutex
	tracker *Tracker
	opts    Options
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator создаёт оркестратор. Хранилище общее для всех сессий.
func NewOrchestrator(store domain.DedupStore, tracker *Tracker, opts Options, log zerolog.Logger) *Orchestrator {
	if tracker == nil {
		tracker = NewTracker()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Orchestrator{
		store:   store,
		guard:   NewKeyedMutex(),
		tracker: tracker,
		opts:    opts,
		log:     log,
		sleep:   sleepContext,
	}
}

// Tracker возвращает трекер состояний.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// RunAll запускает конвейеры всех сессий и возвращает итоги в порядке sessions.
// Ошибка одной сессии не останавливает остальные; все запущенные сессии
// останавливаются перед возвратом.
func (o *Orchestrator) RunAll(ctx context.Context, sessions []domain.Session, sourceRef, destRef string, mode domain.RunMode) []domain.SessionOutcome {
	outcomes := make([]domain.SessionOutcome, len(sessions))
	started := make([]bool, len(sessions))

	var g errgroup.Group
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}
	for i, s := range sessions {
		o.tracker.SetState(s.Name, domain.PipelineIdle)
		g.Go(func() error {
			outcomes[i] = o.runSession(ctx, s, sourceRef, destRef, mode, &started[i])
			o.tracker.Finish(outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range sessions {
		if !started[i] {
			continue
		}
		if err := s.Client.Stop(); err != nil {
			o.log.Warn().Err(err).Str("session", s.Name).Msg("mirror: ошибка остановки сессии")
			continue
		}
		o.log.Debug().Str("session", s.Name).Msg("mirror: сессия остановлена")
	}
	return outcomes
}

func (o *Orchestrator) runSession(ctx context.Context, s domain.Session, sourceRef, destRef string, mode domain.RunMode, started *bool) domain.SessionOutcome {
	log := o.log.With().Str("session", s.Name).Logger()
	outcome := domain.SessionOutcome{Session: s.Name, State: domain.PipelineIdle}
	fail := func(err error) domain.SessionOutcome {
		outcome.State = domain.PipelineFailed
		outcome.Err = err
		log.Error().Err(err).Bool("resolution", domain.IsResolution(err)).Msg("mirror: сессия пропущена")
		return outcome
	}

	startCtx, cancel := context.WithTimeout(ctx, o.opts.StartTimeout)
	err := s.Client.Start(startCtx)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", domain.ErrSessionStart, err))
	}
	*started = true
	log.Info().Msg("mirror: сессия запущена")

	source, err := s.Client.ResolveChatID(ctx, sourceRef)
	if err != nil {
		return fail(fmt.Errorf("source chat: %w", err))
	}
	log.Info().Int64("chat", source.ID).Str("title", source.Title).Msg("mirror: исходный чат найден")

	dest, err := s.Client.ResolveChatID(ctx, destRef)
	if err != nil {
		return fail(fmt.Errorf("destination chat: %w", err))
	}
	log.Info().Int64("chat", dest.ID).Str("title", dest.Title).Msg("mirror: целевой чат найден")

	outcome.Endpoint = domain.SessionEndpoint{Source: source, Destination: dest}
	stats, err := o.runPipeline(ctx, s, outcome.Endpoint, sourceRef, mode, log)
	outcome.Stats = stats
	switch {
	case err == nil:
		outcome.State = domain.PipelineDone
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		outcome.State = domain.PipelineDone
		log.Info().Msg("mirror: конвейер остановлен")
	default:
		outcome.State = domain.PipelineFailed
		outcome.Err = err
	}
	log.Info().
		Str("state", string(outcome.State)).
		Int("batches", stats.Batches).
		Int("attempted", stats.Attempted).
		Int("added", stats.Added).
		Int("duplicates", stats.Duplicates).
		Msg("mirror: конвейер завершён")
	return outcome
}

// runPipeline связывает extractor и inserter одной сессии ограниченным каналом.
func (o *Orchestrator) runPipeline(ctx context.Context, s domain.Session, endpoint domain.SessionEndpoint, sourceRef string, mode domain.RunMode, log zerolog.Logger) (domain.PipelineStats, error) {
	extractor := NewExtractor(s.Name, s.Client, log)
	inserter := NewInserter(s.Name, s.Client, o.store, o.guard, o.opts.Inserter, log)
	inserter.sleep = o.sleep
	inserter.onState = func(state domain.PipelineState) { o.tracker.SetState(s.Name, state) }
	inserter.onStats = func(stats domain.PipelineStats) { o.tracker.SetStats(s.Name, stats) }

	cycle := 0
	feed := func(ctx context.Context) (<-chan domain.UserHandle, func(), error) {
		cycle++
		source := endpoint.Source
		if cycle > 1 {
			resolved, err := s.Client.ResolveChatID(ctx, sourceRef)
			if err != nil {
				return nil, nil, fmt.Errorf("re-resolve source chat: %w", err)
			}
			source = resolved
		}

		n := cycle
		cycleCtx, cancel := context.WithCancel(ctx)
		handles := make(chan domain.UserHandle, o.opts.QueueSize)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := extractor.Run(cycleCtx, source, handles); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Int("cycle", n).Msg("mirror: извлечение завершилось с ошибкой")
			}
		}()
		stop := func() {
			cancel()
			<-done
		}
		return handles, stop, nil
	}

	return inserter.Run(ctx, endpoint.Destination, feed, mode)
}
