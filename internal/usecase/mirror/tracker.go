package mirror

import (
	"sort"
	"sync"
	"time"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

// SessionStatus: снимок состояния конвейера для вывода статуса.
type SessionStatus struct {
	Session   string               `json:"session"`
	State     domain.PipelineState `json:"state"`
	Stats     domain.PipelineStats `json:"stats"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Tracker хранит текущие состояния всех конвейеров запуска.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*SessionStatus
}

// NewTracker создаёт трекер.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*SessionStatus)}
}

func (t *Tracker) entry(session string) *SessionStatus {
	st, ok := t.sessions[session]
	if !ok {
		st = &SessionStatus{Session: session, State: domain.PipelineIdle}
		t.sessions[session] = st
	}
	return st
}

// SetState обновляет состояние сессии.
func (t *Tracker) SetState(session string, state domain.PipelineState) {
	t.mu.Lock()
	st := t.entry(session)
	st.State = state
	st.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
	metrics.SetPipelineState(session, string(state))
}

// SetStats обновляет счётчики сессии.
func (t *Tracker) SetStats(session string, stats domain.PipelineStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(session)
	st.Stats = stats
	st.UpdatedAt = time.Now().UTC()
}

// Finish фиксирует итог сессии.
func (t *Tracker) Finish(outcome domain.SessionOutcome) {
	t.mu.Lock()
	st := t.entry(outcome.Session)
	st.State = outcome.State
	st.Stats = outcome.Stats
	st.Error = ""
	if outcome.Err != nil {
		st.Error = outcome.Err.Error()
	}
	st.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
	metrics.SetPipelineState(outcome.Session, string(outcome.State))
}

// Snapshot возвращает копию состояний, отсортированную по имени сессии.
func (t *Tracker) Snapshot() []SessionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SessionStatus, 0, len(t.sessions))
	for _, st := range t.sessions {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}
