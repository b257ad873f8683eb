package mirror

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"tg-member-mirror/internal/domain"
)

type fakeClient struct {
	mu sync.Mutex

	startErr   error
	chats      map[string]domain.Chat
	resolveFn  func(ref string, call int) (domain.Chat, error)
	cycles     [][]domain.RawMember
	enumErr    error
	badUsers   map[int64]bool
	results    []domain.SubmitResult
	events     *eventLog
	submitted  []domain.Batch
	resolves   int
	enumerated int
	started    bool
	stopped    bool
}

func (f *fakeClient) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeClient) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeClient) ResolveChatID(ctx context.Context, ref string) (domain.Chat, error) {
	f.mu.Lock()
	f.resolves++
	call := f.resolves
	f.mu.Unlock()
	if f.resolveFn != nil {
		return f.resolveFn(ref, call)
	}
	chat, ok := f.chats[ref]
	if !ok {
		return domain.Chat{}, &domain.ResolutionError{Ref: ref, Err: domain.ErrChatNotFound}
	}
	return chat, nil
}

func (f *fakeClient) EnumerateMembers(ctx context.Context, chat domain.Chat) iter.Seq2[domain.RawMember, error] {
	f.mu.Lock()
	idx := f.enumerated
	f.enumerated++
	var members []domain.RawMember
	if idx < len(f.cycles) {
		members = f.cycles[idx]
	}
	enumErr := f.enumErr
	f.mu.Unlock()

	return func(yield func(domain.RawMember, error) bool) {
		for _, m := range members {
			if !yield(m, nil) {
				return
			}
		}
		if enumErr != nil {
			yield(domain.RawMember{}, enumErr)
		}
	}
}

func (f *fakeClient) ResolveUser(ctx context.Context, member domain.RawMember) (domain.UserHandle, error) {
	if f.badUsers[member.UserID] {
		return domain.UserHandle{}, &domain.ResolutionError{Ref: fmt.Sprint(member.UserID), Err: errors.New("PEER_ID_INVALID")}
	}
	return domain.UserHandle{UserID: member.UserID, AccessHash: member.UserID * 10}, nil
}

func (f *fakeClient) SubmitBatch(ctx context.Context, chat domain.Chat, batch domain.Batch) domain.SubmitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, append(domain.Batch(nil), batch...))
	f.events.add("submit")
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res
	}
	return domain.SubmitAdded(len(batch))
}

func (f *fakeClient) batches() []domain.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Batch(nil), f.submitted...)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// memStore не поддерживает атомарное добавление.
type memStore struct {
	mu       sync.Mutex
	sets     map[string]map[int64]bool
	adds     map[int64]int
	lookups  int
	err      error
	slowRead time.Duration
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[string]map[int64]bool), adds: make(map[int64]int)}
}

func (s *memStore) IsMember(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	if s.slowRead > 0 {
		time.Sleep(s.slowRead)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return false, s.err
	}
	return s.sets[key.String()][userID], nil
}

func (s *memStore) AddMember(ctx context.Context, key domain.DedupKey, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	set, ok := s.sets[key.String()]
	if !ok {
		set = make(map[int64]bool)
		s.sets[key.String()] = set
	}
	set[userID] = true
	s.adds[userID]++
	return nil
}

type atomicStore struct {
	*memStore
	atomicCalls int
}

func (s *atomicStore) AddIfAbsent(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	s.mu.Lock()
	s.atomicCalls++
	set, ok := s.sets[key.String()]
	if !ok {
		set = make(map[int64]bool)
		s.sets[key.String()] = set
	}
	if set[userID] {
		s.mu.Unlock()
		return false, nil
	}
	set[userID] = true
	s.adds[userID]++
	s.mu.Unlock()
	return true, nil
}

func members(ids ...int64) []domain.RawMember {
	out := make([]domain.RawMember, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RawMember{UserID: id, AccessHash: id * 10})
	}
	return out
}

func handles(from, to int64) []domain.UserHandle {
	var out []domain.UserHandle
	for id := from; id <= to; id++ {
		out = append(out, domain.UserHandle{UserID: id, AccessHash: id * 10})
	}
	return out
}

// sliceFeed отдаёт заранее заданные циклы; после последнего: пустые потоки.
func sliceFeed(cycles ...[]domain.UserHandle) (Feed, *int) {
	calls := 0
	feed := func(ctx context.Context) (<-chan domain.UserHandle, func(), error) {
		var items []domain.UserHandle
		if calls < len(cycles) {
			items = cycles[calls]
		}
		calls++
		ch := make(chan domain.UserHandle, len(items))
		for _, h := range items {
			ch <- h
		}
		close(ch)
		return ch, func() {}, nil
	}
	return feed, &calls
}

func ids(batch domain.Batch) []int64 {
	out := make([]int64, 0, len(batch))
	for _, h := range batch {
		out = append(out, h.UserID)
	}
	return out
}

// cancellingStore отменяет контекст на первом AddIfAbsent и, как сетевой клиент,
// возвращает ошибку без context.Canceled в цепочке.
type cancellingStore struct {
	*memStore
	cancel context.CancelFunc
}

func (s *cancellingStore) AddIfAbsent(ctx context.Context, key domain.DedupKey, userID int64) (bool, error) {
	s.cancel()
	return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, context.Canceled)
}
