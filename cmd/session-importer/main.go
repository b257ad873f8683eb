package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tg-member-mirror/internal/adapters/mtproto"
	"tg-member-mirror/internal/adapters/repo"
	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/config"
	"tg-member-mirror/internal/infra/db"
	applog "tg-member-mirror/internal/infra/log"
)

func main() {
	var (
		filePath    string
		sessionName string
		phone       string
	)
	flag.StringVar(&filePath, "file", "", "Файл сессии: gotd JSON, Telethon JSON или строковая сессия")
	flag.StringVar(&sessionName, "name", "", "Имя сессии")
	flag.StringVar(&phone, "phone", "", "Телефон аккаунта (для пула в БД)")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if filePath == "" || sessionName == "" {
		logger.Fatal().Msg("session-importer: нужны -file и -name")
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("session-importer: не удалось прочитать файл")
	}
	data, format, err := mtproto.NormalizeSession(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("session-importer: формат сессии не распознан")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cfg.Sessions.Source {
	case "postgres":
		if cfg.PGDSN == "" {
			logger.Fatal().Msg("session-importer: не указан PG_DSN")
		}
		if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
			logger.Fatal().Msg("session-importer: не указаны TG_API_ID и TG_API_HASH")
		}
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("session-importer: нет подключения к БД")
		}
		defer pool.Close()
		accounts := repo.NewPostgres(pool)
		if err := accounts.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось подготовить схему БД")
		}
		if err := accounts.StoreMTProtoSession(ctx, sessionName, data); err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось сохранить сессию")
		}
		if err := accounts.UpsertMTProtoAccount(ctx, domain.MTProtoAccount{
			Name:    sessionName,
			Pool:    cfg.Sessions.Pool,
			APIID:   cfg.Telegram.APIID,
			APIHash: cfg.Telegram.APIHash,
			Phone:   phone,
		}); err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось сохранить аккаунт")
		}
		fmt.Printf("Сессия %q (%s, %d байт) сохранена в пул %q\n", sessionName, format, len(data), cfg.Sessions.Pool)
	default:
		if err := os.MkdirAll(cfg.Sessions.Dir, 0o700); err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось создать каталог сессий")
		}
		path := mtproto.SessionPath(cfg.Sessions.Dir, filepath.Base(sessionName))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось записать сессию")
		}
		fmt.Printf("Сессия %q (%s, %d байт) записана в %s\n", sessionName, format, len(data), path)
	}
}
