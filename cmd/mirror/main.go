package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-member-mirror/internal/adapters/dedup"
	"tg-member-mirror/internal/adapters/mtproto"
	"tg-member-mirror/internal/adapters/report"
	"tg-member-mirror/internal/adapters/repo"
	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/cache"
	"tg-member-mirror/internal/infra/config"
	"tg-member-mirror/internal/infra/db"
	apphttp "tg-member-mirror/internal/infra/http"
	applog "tg-member-mirror/internal/infra/log"
	"tg-member-mirror/internal/infra/metrics"
	"tg-member-mirror/internal/usecase/mirror"
)

func main() {
	var (
		continuous bool
		check      bool
		list       bool
		sourceRef  string
		destRef    string
	)
	flag.BoolVar(&continuous, "continue", false, "Повторять проход по исходному чату до остановки")
	flag.BoolVar(&check, "check", false, "Проверить ограничения аккаунтов через @SpamBot")
	flag.BoolVar(&list, "list", false, "Показать найденные сессии и выйти")
	flag.StringVar(&sourceRef, "source", "", "Исходный чат (@username, ссылка или id)")
	flag.StringVar(&destRef, "dest", "", "Чат назначения (@username, ссылка или id)")
	flag.Parse()

	cfg := config.Load()
	if sourceRef != "" {
		cfg.Mirror.SourceChat = sourceRef
	}
	if destRef != "" {
		cfg.Mirror.DestinationChat = destRef
	}
	logger := applog.NewLogger(cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("mirror: некорректная конфигурация")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pool    *pgxpool.Pool
		runRepo *repo.Postgres
	)
	if cfg.PGDSN != "" {
		var err error
		pool, err = db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("mirror: нет подключения к БД")
		}
		defer pool.Close()
		runRepo = repo.NewPostgres(pool)
		if err := runRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("mirror: не удалось подготовить схему БД")
		}
	}

	accounts, err := loadAccounts(ctx, cfg, runRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("mirror: не удалось загрузить сессии")
	}
	if list {
		for _, a := range accounts {
			fmt.Println(a.Name)
		}
		return
	}
	if len(accounts) == 0 {
		logger.Fatal().Str("source", cfg.Sessions.Source).Msg("mirror: не найдено ни одной сессии")
	}

	clients := make([]*mtproto.Client, 0, len(accounts))
	for _, a := range accounts {
		client, err := mtproto.NewClient(a, logger)
		if err != nil {
			logger.Error().Err(err).Str("session", a.Name).Msg("mirror: сессия пропущена")
			continue
		}
		clients = append(clients, client)
	}

	if check {
		checkStatus(ctx, clients, cfg.Mirror.StartTimeout, logger)
		return
	}

	in := bufio.NewReader(os.Stdin)
	if cfg.Mirror.SourceChat, err = promptRef(in, os.Stdout, "Исходный чат", cfg.Mirror.SourceChat); err != nil {
		logger.Fatal().Err(err).Msg("mirror: не указан исходный чат")
	}
	if cfg.Mirror.DestinationChat, err = promptRef(in, os.Stdout, "Чат назначения", cfg.Mirror.DestinationChat); err != nil {
		logger.Fatal().Err(err).Msg("mirror: не указан чат назначения")
	}

	store, closeStore, err := newDedupStore(ctx, cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("mirror: хранилище дедупликации недоступно")
	}
	defer closeStore()

	mode := domain.RunModeOnePass
	if continuous {
		mode = domain.RunModeContinuous
	}
	runID := uuid.NewString()
	runLog := logger.With().Str("run", runID).Logger()

	tracker := mirror.NewTracker()
	orchestrator := mirror.NewOrchestrator(store, tracker, mirror.Options{
		Inserter: mirror.InserterConfig{
			Campaign:        cfg.Mirror.Campaign,
			KeyPrefix:       cfg.Dedup.KeyPrefix,
			MaxAddCount:     cfg.Mirror.MaxAddCount,
			Retries:         cfg.Mirror.Retries,
			SleepInterval:   cfg.Mirror.SleepInterval,
			RateLimitMargin: cfg.Mirror.RateLimitMargin,
		},
		QueueSize:    cfg.Mirror.QueueSize,
		StartTimeout: cfg.Mirror.StartTimeout,
		MaxParallel:  cfg.Mirror.MaxParallel,
	}, runLog)

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan struct{})
	if mode == domain.RunModeContinuous && cfg.HTTPAddr != "" {
		server := apphttp.NewServer(logger.With().Str("component", "http").Logger(), prometheus.DefaultGatherer, func() any {
			return tracker.Snapshot()
		})
		go func() {
			defer close(serverDone)
			if err := server.Run(serverCtx, cfg.HTTPAddr); err != nil {
				logger.Error().Err(err).Msg("mirror: служебный сервер остановлен")
			}
		}()
	} else {
		close(serverDone)
	}

	sessions := make([]domain.Session, 0, len(clients))
	for _, c := range clients {
		sessions = append(sessions, domain.Session{Name: c.Name(), Client: c})
	}

	run := domain.MirrorRun{
		ID:        runID,
		Campaign:  cfg.Mirror.Campaign,
		Mode:      mode,
		SourceRef: cfg.Mirror.SourceChat,
		DestRef:   cfg.Mirror.DestinationChat,
		StartedAt: time.Now().UTC(),
	}
	runLog.Info().
		Str("mode", mode.String()).
		Int("sessions", len(sessions)).
		Str("source", run.SourceRef).
		Str("destination", run.DestRef).
		Msg("mirror: запуск")

	run.Outcomes = orchestrator.RunAll(ctx, sessions, run.SourceRef, run.DestRef, mode)
	run.FinishedAt = time.Now().UTC()
	stopServer()
	<-serverDone

	text := mirror.FormatReport(runID, mode, run.Outcomes)
	fmt.Println(text)

	// ctx уже может быть отменён сигналом, отчёт всё равно сохраняем.
	finishCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if runRepo != nil {
		if err := runRepo.SaveMirrorRun(finishCtx, run); err != nil {
			runLog.Error().Err(err).Msg("mirror: не удалось сохранить отчёт")
		}
	}
	if cfg.Report.BotToken != "" {
		notifier, err := report.NewTelegram(cfg.Report.BotToken, cfg.Report.ChatID, logger)
		if err != nil {
			runLog.Error().Err(err).Msg("mirror: уведомления недоступны")
		} else if err := notifier.Notify(finishCtx, text); err != nil {
			runLog.Error().Err(err).Msg("mirror: не удалось отправить отчёт")
		}
	}
	runLog.Info().Msg("mirror: завершено")
}

// loadAccounts читает инвентарь сессий из каталога или из БД.
func loadAccounts(ctx context.Context, cfg config.AppConfig, sessions *repo.Postgres) ([]mtproto.Account, error) {
	switch cfg.Sessions.Source {
	case "postgres":
		if sessions == nil {
			return nil, errors.New("postgres sessions require PG_DSN")
		}
		listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		meta, err := sessions.ListMTProtoAccounts(listCtx, cfg.Sessions.Pool)
		if err != nil {
			return nil, err
		}
		accounts := make([]mtproto.Account, 0, len(meta))
		for _, m := range meta {
			accounts = append(accounts, mtproto.Account{
				Name:    m.Name,
				APIID:   m.APIID,
				APIHash: m.APIHash,
				Storage: mtproto.NewSessionDB(sessions, m.Name),
			})
		}
		return accounts, nil
	default:
		return mtproto.DirAccounts(cfg.Sessions.Dir, cfg.Telegram.APIID, cfg.Telegram.APIHash)
	}
}

func newDedupStore(ctx context.Context, cfg config.AppConfig, pool *pgxpool.Pool) (domain.DedupStore, func(), error) {
	switch cfg.Dedup.Backend {
	case "postgres":
		if pool == nil {
			return nil, nil, errors.New("postgres dedup requires PG_DSN")
		}
		store, err := dedup.NewPostgres(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		client, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return dedup.NewRedis(client), func() { _ = client.Close() }, nil
	}
}

// checkStatus запускает каждую сессию и печатает ответ @SpamBot.
func checkStatus(ctx context.Context, clients []*mtproto.Client, startTimeout time.Duration, log zerolog.Logger) {
	for _, c := range clients {
		startCtx, cancel := context.WithTimeout(ctx, startTimeout)
		err := c.Start(startCtx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("session", c.Name()).Msg("mirror: сессия не запустилась")
			fmt.Printf("- %s: %v\n", c.Name(), err)
			continue
		}
		text, err := c.CheckStatus(ctx)
		if err != nil {
			fmt.Printf("- %s: %v\n", c.Name(), err)
		} else {
			fmt.Printf("- %s: %s\n", c.Name(), text)
		}
		if err := c.Stop(); err != nil {
			log.Warn().Err(err).Str("session", c.Name()).Msg("mirror: ошибка остановки сессии")
		}
		if ctx.Err() != nil {
			return
		}
	}
}
