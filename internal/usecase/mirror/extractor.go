package mirror

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

type memberSource interface {
	EnumerateMembers(ctx context.Context, chat domain.Chat) iter.Seq2[domain.RawMember, error]
	ResolveUser(ctx context.Context, member domain.RawMember) (domain.UserHandle, error)
}

// Extractor перечисляет участников источника и отдаёт их в очередь вставки.
// Хранилище дедупликации extractor не трогает.
type Extractor struct {
	session string
	source  memberSource
	log     zerolog.Logger
}

// NewExtractor создаёт extractor для сессии.
func NewExtractor(session string, source memberSource, log zerolog.Logger) *Extractor {
	return &Extractor{session: session, source: source, log: log}
}

// Run перечисляет участников чата и закрывает out по завершении.
// Закрытие канала: единственный признак конца потока.
func (e *Extractor) Run(ctx context.Context, chat domain.Chat, out chan<- domain.UserHandle) error {
	defer close(out)

	for member, err := range e.source.EnumerateMembers(ctx, chat) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error().Err(err).Int64("chat", chat.ID).Msg("mirror: перечисление участников прервано")
			return fmt.Errorf("enumerate members: %w", err)
		}
		if member.Self {
			metrics.MembersSkipped.WithLabelValues(e.session, "self").Inc()
			continue
		}
		if member.Deleted {
			metrics.MembersSkipped.WithLabelValues(e.session, "deleted").Inc()
			continue
		}
		handle, err := e.source.ResolveUser(ctx, member)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.MembersSkipped.WithLabelValues(e.session, "resolve").Inc()
			e.log.Warn().Err(err).Int64("user", member.UserID).Msg("mirror: не удалось разрешить участника, пропускаем")
			continue
		}
		select {
		case out <- handle:
			metrics.MembersExtracted.WithLabelValues(e.session).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
