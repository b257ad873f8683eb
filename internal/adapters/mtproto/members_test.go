package mtproto

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-member-mirror/internal/domain"
)

func collectMembers(t *testing.T, c *Client, chat domain.Chat) []domain.RawMember {
	t.Helper()
	var out []domain.RawMember
	for m, err := range c.EnumerateMembers(context.Background(), chat) {
		if err != nil {
			t.Fatalf("enumerate: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestEnumerateChannelSearchesPastRecentLimit(t *testing.T) {
	floodOnce := true
	c, inv := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		r, ok := req.(*tg.ChannelsGetParticipantsRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected request %T", req)
		}
		switch f := r.Filter.(type) {
		case *tg.ChannelParticipantsRecent:
			// Recent обрывается на трёх участниках из пяти.
			switch r.Offset {
			case 0:
				return participantsPage(5, 1, 2), nil
			case 2:
				return participantsPage(5, 3), nil
			}
			return participantsPage(5), nil
		case *tg.ChannelParticipantsSearch:
			switch {
			case f.Q == "" && r.Offset == 0:
				if floodOnce {
					floodOnce = false
					return nil, tgerr.New(420, "FLOOD_WAIT_0")
				}
				return participantsPage(2, 2, 4), nil
			case f.Q == "a" && r.Offset == 0:
				return participantsPage(1, 5), nil
			}
			return participantsPage(0), nil
		}
		return nil, fmt.Errorf("unexpected filter %T", r.Filter)
	})

	members := collectMembers(t, c, domain.Chat{ID: 100, AccessHash: 1, Kind: domain.ChatKindChannel})

	seen := make(map[int64]int)
	for _, m := range members {
		seen[m.UserID]++
		if m.AccessHash != m.UserID*10 {
			t.Fatalf("user %d access hash = %d", m.UserID, m.AccessHash)
		}
	}
	for id := int64(1); id <= 5; id++ {
		if seen[id] != 1 {
			t.Fatalf("user %d emitted %d times, want 1 (members %+v)", id, seen[id], members)
		}
	}
	if len(members) != 5 {
		t.Fatalf("expected 5 members, got %d", len(members))
	}

	// Перебор останавливается, как только найдены все участники.
	for _, req := range inv.requests() {
		r := req.(*tg.ChannelsGetParticipantsRequest)
		if s, ok := r.Filter.(*tg.ChannelParticipantsSearch); ok && s.Q == "b" {
			t.Fatalf("search continued after all members were found")
		}
	}
}

func TestEnumerateChannelRecentCompleteSkipsSearch(t *testing.T) {
	c, inv := newTestClient(t, 10, func(req bin.Encoder) (bin.Encoder, error) {
		r := req.(*tg.ChannelsGetParticipantsRequest)
		if _, ok := r.Filter.(*tg.ChannelParticipantsSearch); ok {
			t.Fatalf("search must not run when recent returned everyone")
		}
		return participantsPage(2, 7, 8), nil
	})

	members := collectMembers(t, c, domain.Chat{ID: 100, Kind: domain.ChatKindChannel})
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if n := len(inv.requests()); n != 1 {
		t.Fatalf("expected a single request, got %d", n)
	}
}

func TestEnumerateChannelStopsWhenConsumerStops(t *testing.T) {
	c, inv := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return participantsPage(100, 1, 2), nil
	})

	for range c.EnumerateMembers(context.Background(), domain.Chat{ID: 100, Kind: domain.ChatKindChannel}) {
		break
	}
	if n := len(inv.requests()); n != 1 {
		t.Fatalf("expected enumeration to stop after the first page, got %d requests", n)
	}
}

func TestEnumerateChannelReportsError(t *testing.T) {
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return nil, tgerr.New(400, "CHANNEL_PRIVATE")
	})

	var got error
	for _, err := range c.EnumerateMembers(context.Background(), domain.Chat{ID: 100, Kind: domain.ChatKindChannel}) {
		got = err
	}
	if !tgerr.Is(got, "CHANNEL_PRIVATE") {
		t.Fatalf("expected CHANNEL_PRIVATE, got %v", got)
	}
}

func TestEnumerateBasicChat(t *testing.T) {
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		r, ok := req.(*tg.MessagesGetFullChatRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected request %T", req)
		}
		if r.ChatID != 9 {
			return nil, fmt.Errorf("unexpected chat %d", r.ChatID)
		}
		return &tg.MessagesChatFull{
			FullChat: &tg.ChatFull{
				ID: 9,
				Participants: &tg.ChatParticipants{
					ChatID: 9,
					Participants: []tg.ChatParticipantClass{
						&tg.ChatParticipant{UserID: 1},
						&tg.ChatParticipantCreator{UserID: 2},
					},
				},
			},
			Users: []tg.UserClass{
				&tg.User{ID: 1, AccessHash: 11, Username: "one"},
				&tg.User{ID: 2, AccessHash: 22, Bot: true},
			},
		}, nil
	})

	members := collectMembers(t, c, domain.Chat{ID: 9, Kind: domain.ChatKindBasic})
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %+v", members)
	}
	if members[0].UserID != 1 || members[0].AccessHash != 11 || members[0].Username != "one" {
		t.Fatalf("unexpected first member %+v", members[0])
	}
	if !members[1].Bot {
		t.Fatalf("expected second member to be a bot")
	}
}

func TestResolveUserKnownHashSkipsRequest(t *testing.T) {
	c, inv := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return nil, fmt.Errorf("unexpected request %T", req)
	})

	h, err := c.ResolveUser(context.Background(), domain.RawMember{UserID: 5, AccessHash: 55, Username: "five"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.AccessHash != 55 || h.Username != "five" {
		t.Fatalf("unexpected handle %+v", h)
	}
	if len(inv.requests()) != 0 {
		t.Fatalf("expected no requests")
	}
}

func TestResolveUserFetchesHash(t *testing.T) {
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return &tg.UserClassVector{Elems: []tg.UserClass{&tg.User{ID: 5, AccessHash: 55}}}, nil
	})

	h, err := c.ResolveUser(context.Background(), domain.RawMember{UserID: 5})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.UserID != 5 || h.AccessHash != 55 {
		t.Fatalf("unexpected handle %+v", h)
	}
}

func TestResolveUserNotFound(t *testing.T) {
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return &tg.UserClassVector{}, nil
	})

	_, err := c.ResolveUser(context.Background(), domain.RawMember{UserID: 5})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("missing user must not be reported as missing chat")
	}
	if !domain.IsResolution(err) {
		t.Fatalf("expected resolution error, got %T", err)
	}
}
