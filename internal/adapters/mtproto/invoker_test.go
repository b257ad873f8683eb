package mtproto

import (
	"context"
	"sync"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

// fakeInvoker отвечает на RPC без сети: ответ кодируется и декодируется
// так же, как его получил бы настоящий клиент.
type fakeInvoker struct {
	mu     sync.Mutex
	calls  []bin.Encoder
	handle func(req bin.Encoder) (bin.Encoder, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()

	resp, err := f.handle(input)
	if err != nil {
		return err
	}
	var b bin.Buffer
	if err := resp.Encode(&b); err != nil {
		return err
	}
	return output.Decode(&b)
}

func (f *fakeInvoker) requests() []bin.Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bin.Encoder(nil), f.calls...)
}

func newTestClient(t *testing.T, pageSize int, handle func(req bin.Encoder) (bin.Encoder, error)) (*Client, *fakeInvoker) {
	t.Helper()
	inv := &fakeInvoker{handle: handle}
	return &Client{
		name:     "test",
		log:      zerolog.Nop(),
		pageSize: pageSize,
		api:      tg.NewClient(inv),
	}, inv
}

func participantsPage(count int, ids ...int64) *tg.ChannelsChannelParticipants {
	page := &tg.ChannelsChannelParticipants{Count: count}
	for _, id := range ids {
		page.Participants = append(page.Participants, &tg.ChannelParticipant{UserID: id})
		page.Users = append(page.Users, &tg.User{ID: id, AccessHash: id * 10})
	}
	return page
}
