package domain

import (
	"context"
	"iter"
	"time"
)

// PlatformClient: одна MTProto-сессия. Экземпляр принадлежит ровно одному конвейеру.
type PlatformClient interface {
	Start(ctx context.Context) error
	Stop() error
	ResolveChatID(ctx context.Context, ref string) (Chat, error)
	EnumerateMembers(ctx context.Context, chat Chat) iter.Seq2[RawMember, error]
	ResolveUser(ctx context.Context, member RawMember) (UserHandle, error)
	SubmitBatch(ctx context.Context, chat Chat, batch Batch) SubmitResult
}

// Session связывает имя сессии с её клиентом.
type Session struct {
	Name   string
	Client PlatformClient
}

// DedupStore: постоянное множество уже обработанных пользователей.
type DedupStore interface {
	IsMember(ctx context.Context, key DedupKey, userID int64) (bool, error)
	// AddMember идемпотентен.
	AddMember(ctx context.Context, key DedupKey, userID int64) error
}

// AtomicDedupStore умеет атомарно добавлять элемент, если его ещё нет.
// Возвращает true, если элемент был добавлен этим вызовом.
type AtomicDedupStore interface {
	DedupStore
	AddIfAbsent(ctx context.Context, key DedupKey, userID int64) (bool, error)
}

// MTProtoAccount описывает аккаунт из пула сессий.
type MTProtoAccount struct {
	Name     string
	Pool     string
	APIID    int
	APIHash  string
	Phone    string
	Username string
	RawJSON  []byte
}

// MirrorRun: сохранённый отчёт о запуске миграции.
type MirrorRun struct {
	ID         string
	Campaign   string
	Mode       RunMode
	SourceRef  string
	DestRef    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []SessionOutcome
}

// MirrorRunRepo сохраняет отчёты о запусках.
type MirrorRunRepo interface {
	SaveMirrorRun(ctx context.Context, run MirrorRun) error
}

// ReportNotifier доставляет итоговый отчёт.
type ReportNotifier interface {
	Notify(ctx context.Context, text string) error
}
