package domain

import (
	"fmt"
	"time"
)

// ChatKind различает обычные группы и каналы/супергруппы.
type ChatKind string

const (
	// ChatKindBasic: обычная группа (messages.addChatUser).
	ChatKindBasic ChatKind = "basic"
	// ChatKindChannel: канал или супергруппа (channels.inviteToChannel).
	ChatKindChannel ChatKind = "channel"
)

// Chat описывает разрешённый чат Telegram.
type Chat struct {
	ID         int64
	AccessHash int64
	Kind       ChatKind
	Title      string
}

// SessionEndpoint хранит источник и приёмник, разрешённые для конкретной сессии.
type SessionEndpoint struct {
	Source      Chat
	Destination Chat
}

// RawMember: участник чата в том виде, в котором его отдаёт перечисление.
type RawMember struct {
	UserID     int64
	AccessHash int64
	Username   string
	Self       bool
	Deleted    bool
	Bot        bool
}

// UserHandle содержит всё необходимое для приглашения пользователя.
type UserHandle struct {
	UserID     int64
	AccessHash int64
	Username   string
}

// Batch: упорядоченная пачка пользователей для одного вызова приглашения.
type Batch []UserHandle

// DedupKey задаёт пространство имён множества уже добавленных пользователей.
type DedupKey struct {
	Prefix   string
	Campaign string
	ChatID   int64
}

// String возвращает ключ в формате prefix:campaign:added:chat_id.
func (k DedupKey) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = "bot"
	}
	return fmt.Sprintf("%s:%s:added:%d", prefix, k.Campaign, k.ChatID)
}

// RunMode определяет, повторяется ли проход по источнику.
type RunMode int

const (
	// RunModeOnePass: один проход и остановка.
	RunModeOnePass RunMode = iota
	// RunModeContinuous: повторные проходы с паузой между ними.
	RunModeContinuous
)

func (m RunMode) String() string {
	if m == RunModeContinuous {
		return "continuous"
	}
	return "one_pass"
}

// PipelineState: состояние конвейера одной сессии.
type PipelineState string

const (
	PipelineIdle       PipelineState = "idle"
	PipelineExtracting PipelineState = "extracting"
	PipelineInserting  PipelineState = "inserting"
	PipelineDraining   PipelineState = "draining"
	PipelineDone       PipelineState = "done"
	PipelineFailed     PipelineState = "failed"
)

// SubmitStatus: тег результата отправки пачки.
type SubmitStatus string

const (
	SubmitOK            SubmitStatus = "ok"
	SubmitRateLimited   SubmitStatus = "rate_limited"
	SubmitAlreadyMember SubmitStatus = "already_member"
	SubmitFailed        SubmitStatus = "failed"
)

// SubmitResult: явный результат вызова приглашения вместо ошибок-исключений.
type SubmitResult struct {
	Status     SubmitStatus
	Added      int
	RetryAfter time.Duration
	Err        error
}

// SubmitAdded формирует успешный результат.
func SubmitAdded(n int) SubmitResult {
	return SubmitResult{Status: SubmitOK, Added: n}
}

// SubmitRetryAfter формирует результат ограничения частоты.
func SubmitRetryAfter(d time.Duration, err error) SubmitResult {
	return SubmitResult{Status: SubmitRateLimited, RetryAfter: d, Err: err}
}

// SubmitError формирует результат прочей ошибки платформы.
func SubmitError(err error) SubmitResult {
	return SubmitResult{Status: SubmitFailed, Err: err}
}

// PipelineStats: счётчики конвейера за запуск.
type PipelineStats struct {
	Cycles     int `json:"cycles"`
	Extracted  int `json:"extracted"`
	Duplicates int `json:"duplicates"`
	Batches    int `json:"batches"`
	Attempted  int `json:"attempted"`
	Added      int `json:"added"`
	Abandoned  int `json:"abandoned"`
}

// SessionOutcome: итог работы одной сессии.
type SessionOutcome struct {
	Session  string
	State    PipelineState
	Endpoint SessionEndpoint
	Stats    PipelineStats
	Err      error
}
