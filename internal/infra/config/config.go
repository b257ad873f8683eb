package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию зеркалирования участников.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":9090"`

	Telegram struct {
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	Sessions struct {
		Source string `envconfig:"SESSIONS_SOURCE" default:"dir"`
		Dir    string `envconfig:"SESSIONS_DIR" default:"./clients"`
		Pool   string `envconfig:"SESSIONS_POOL" default:"default"`
	} `envconfig:""`

	Mirror struct {
		Campaign        string        `envconfig:"MIRROR_CAMPAIGN" default:"1"`
		SourceChat      string        `envconfig:"MIRROR_SOURCE_CHAT"`
		DestinationChat string        `envconfig:"MIRROR_DESTINATION_CHAT"`
		MaxAddCount     int           `envconfig:"MIRROR_MAX_ADD_COUNT" default:"50"`
		Retries         int           `envconfig:"MIRROR_RETRIES" default:"3"`
		SleepInterval   time.Duration `envconfig:"MIRROR_SLEEP_INTERVAL" default:"5s"`
		RateLimitMargin time.Duration `envconfig:"MIRROR_RATE_LIMIT_MARGIN" default:"1s"`
		QueueSize       int           `envconfig:"MIRROR_QUEUE_SIZE" default:"100"`
		StartTimeout    time.Duration `envconfig:"MIRROR_START_TIMEOUT" default:"30s"`
		MaxParallel     int           `envconfig:"MIRROR_MAX_PARALLEL" default:"0"`
	} `envconfig:""`

	Dedup struct {
		Backend   string `envconfig:"DEDUP_BACKEND" default:"redis"`
		KeyPrefix string `envconfig:"DEDUP_KEY_PREFIX" default:"bot"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	Report struct {
		BotToken string `envconfig:"REPORT_BOT_TOKEN"`
		ChatID   int64  `envconfig:"REPORT_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет значения, от которых зависит конвейер.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Mirror.MaxAddCount <= 0 {
		errs = append(errs, fmt.Errorf("MIRROR_MAX_ADD_COUNT must be positive, got %d", c.Mirror.MaxAddCount))
	}
	if c.Mirror.Retries <= 0 {
		errs = append(errs, fmt.Errorf("MIRROR_RETRIES must be positive, got %d", c.Mirror.Retries))
	}
	if c.Mirror.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("MIRROR_QUEUE_SIZE must not be negative, got %d", c.Mirror.QueueSize))
	}
	if c.Mirror.Campaign == "" {
		errs = append(errs, errors.New("MIRROR_CAMPAIGN is empty"))
	}
	switch c.Dedup.Backend {
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for redis dedup backend"))
		}
	case "postgres":
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for postgres dedup backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DEDUP_BACKEND %q", c.Dedup.Backend))
	}
	switch c.Sessions.Source {
	case "dir":
		if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
			errs = append(errs, errors.New("TG_API_ID and TG_API_HASH are required for dir sessions"))
		}
	case "postgres":
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for postgres sessions"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSIONS_SOURCE %q", c.Sessions.Source))
	}
	return errors.Join(errs...)
}
