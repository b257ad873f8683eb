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

func testChannel(id int64, title string) *tg.Channel {
	return &tg.Channel{ID: id, AccessHash: id * 3, Title: title, Photo: &tg.ChatPhotoEmpty{}}
}

func TestResolveInvitePeekJoinsChat(t *testing.T) {
	imported := false
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		switch r := req.(type) {
		case *tg.MessagesCheckChatInviteRequest:
			if r.Hash != "AbCdEf123" {
				return nil, fmt.Errorf("unexpected hash %q", r.Hash)
			}
			return &tg.ChatInvitePeek{Chat: testChannel(77, "preview"), Expires: 1}, nil
		case *tg.MessagesImportChatInviteRequest:
			imported = true
			return &tg.Updates{Chats: []tg.ChatClass{testChannel(77, "joined")}}, nil
		}
		return nil, fmt.Errorf("unexpected request %T", req)
	})

	chat, err := c.ResolveChatID(context.Background(), "t.me/+AbCdEf123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !imported {
		t.Fatalf("preview-only invite must be imported")
	}
	if chat.ID != 77 || chat.Title != "joined" || chat.Kind != domain.ChatKindChannel {
		t.Fatalf("unexpected chat %+v", chat)
	}
}

func TestResolveInviteAlreadyMember(t *testing.T) {
	c, inv := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		if _, ok := req.(*tg.MessagesCheckChatInviteRequest); ok {
			return &tg.ChatInviteAlready{Chat: testChannel(77, "member")}, nil
		}
		return nil, fmt.Errorf("unexpected request %T", req)
	})

	chat, err := c.ResolveChatID(context.Background(), "https://t.me/joinchat/XyZ987")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chat.ID != 77 || chat.AccessHash != 231 {
		t.Fatalf("unexpected chat %+v", chat)
	}
	if n := len(inv.requests()); n != 1 {
		t.Fatalf("expected only the invite check, got %d requests", n)
	}
}

func TestResolveInviteExpired(t *testing.T) {
	c, _ := newTestClient(t, 2, func(req bin.Encoder) (bin.Encoder, error) {
		return nil, tgerr.New(400, "INVITE_HASH_EXPIRED")
	})

	_, err := c.ResolveChatID(context.Background(), "t.me/+AbCdEf123")
	if !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if !domain.IsResolution(err) {
		t.Fatalf("expected resolution error, got %T", err)
	}
}
