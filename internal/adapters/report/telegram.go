package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

const messageLimit = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет отчёт о запуске в чат администратора через Bot API.
type Telegram struct {
	bot    sender
	chatID int64
	limit  int
	log    zerolog.Logger
}

var _ domain.ReportNotifier = (*Telegram)(nil)

// NewTelegram создаёт уведомитель с токеном бота.
func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("report chat id is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot api: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, limit: messageLimit, log: log}, nil
}

// Notify отправляет текст, при необходимости разбивая его на несколько сообщений.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	target := strconv.FormatInt(t.chatID, 10)
	for i, part := range splitLines(text, t.limit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", target, start, err)
		if err != nil {
			return fmt.Errorf("send report part %d: %w", i+1, err)
		}
	}
	t.log.Debug().Int64("chat", t.chatID).Msg("report: отчёт отправлен")
	return nil
}

// splitLines собирает части из целых строк; строка длиннее limit режется по рунам.
func splitLines(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = messageLimit
	}

	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if chunk := strings.TrimRight(string(cur), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			parts = append(parts, string(runes[:limit]))
			runes = runes[limit:]
		}
		need := len(runes)
		if len(cur) > 0 {
			need++
		}
		if len(cur)+need > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, runes...)
	}
	flush()
	return parts
}
