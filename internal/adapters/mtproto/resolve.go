package mtproto

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

var notFoundErrors = []string{
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
	"CHAT_ID_INVALID",
	"PEER_ID_INVALID",
	"INVITE_HASH_EXPIRED",
	"INVITE_HASH_INVALID",
}

// ResolveChatID разрешает ссылку в чат и при необходимости вступает в него.
// Любая ошибка возвращается как *domain.ResolutionError.
func (c *Client) ResolveChatID(ctx context.Context, ref string) (domain.Chat, error) {
	parsed, err := parseChatRef(ref)
	if err != nil {
		return domain.Chat{}, &domain.ResolutionError{Ref: ref, Err: err}
	}

	start := time.Now()
	var chat domain.Chat
	switch parsed.kind {
	case chatRefUsername:
		chat, err = c.resolveUsername(ctx, parsed.username)
	case chatRefInvite:
		chat, err = c.resolveInvite(ctx, parsed.hash)
	case chatRefChannelID:
		chat, err = c.resolveChannelID(ctx, parsed.id)
	case chatRefChatID:
		chat, err = c.resolveBasicChat(ctx, parsed.id)
	}
	metrics.ObserveNetworkRequest("mtproto", "resolve_chat", c.name, start, err)
	if err != nil {
		if tgerr.Is(err, notFoundErrors...) {
			err = fmt.Errorf("%w: %v", domain.ErrChatNotFound, err)
		}
		return domain.Chat{}, &domain.ResolutionError{Ref: ref, Err: err}
	}
	return chat, nil
}

func (c *Client) resolveUsername(ctx context.Context, username string) (domain.Chat, error) {
	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return domain.Chat{}, err
	}
	var wantID int64
	switch peer := res.Peer.(type) {
	case *tg.PeerChannel:
		wantID = peer.ChannelID
	case *tg.PeerChat:
		wantID = peer.ChatID
	default:
		return domain.Chat{}, fmt.Errorf("%w: @%s is not a group", domain.ErrChatNotFound, username)
	}
	for _, raw := range res.Chats {
		if raw.GetID() != wantID {
			continue
		}
		if ch, ok := raw.(*tg.Channel); ok && ch.Left {
			if err := c.join(ctx, ch); err != nil {
				return domain.Chat{}, err
			}
		}
		if chat, ok := chatFromClass(raw); ok {
			return chat, nil
		}
	}
	return domain.Chat{}, fmt.Errorf("%w: @%s", domain.ErrChatNotFound, username)
}

func (c *Client) join(ctx context.Context, ch *tg.Channel) error {
	_, err := c.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	if err != nil && !tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
		return fmt.Errorf("join channel %d: %w", ch.ID, err)
	}
	c.log.Info().Int64("chat", ch.ID).Str("title", ch.Title).Msg("mtproto: вступили в чат")
	return nil
}

func (c *Client) resolveInvite(ctx context.Context, hash string) (domain.Chat, error) {
	invite, err := c.api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return domain.Chat{}, err
	}
	// ChatInvitePeek даёт только предпросмотр: участником сессия не становится.
	if already, ok := invite.(*tg.ChatInviteAlready); ok {
		if chat, ok := chatFromClass(already.Chat); ok {
			return chat, nil
		}
	}

	updates, err := c.api.MessagesImportChatInvite(ctx, hash)
	if err != nil {
		return domain.Chat{}, err
	}
	var chats []tg.ChatClass
	switch u := updates.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	}
	for _, raw := range chats {
		if chat, ok := chatFromClass(raw); ok {
			return chat, nil
		}
	}
	return domain.Chat{}, fmt.Errorf("%w: invite %s", domain.ErrChatNotFound, hash)
}

// resolveChannelID ищет канал сначала напрямую, затем среди последних диалогов,
// так как без access_hash запрос по идентификатору работает не всегда.
func (c *Client) resolveChannelID(ctx context.Context, id int64) (domain.Chat, error) {
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
	if err == nil {
		for _, raw := range chatsFromMessagesChats(res) {
			if chat, ok := chatFromClass(raw); ok && chat.ID == id {
				return chat, nil
			}
		}
	}

	dialogs, dErr := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if dErr != nil {
		if err != nil {
			return domain.Chat{}, err
		}
		return domain.Chat{}, dErr
	}
	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	for _, raw := range chats {
		if chat, ok := chatFromClass(raw); ok && chat.ID == id && chat.Kind == domain.ChatKindChannel {
			return chat, nil
		}
	}
	return domain.Chat{}, fmt.Errorf("%w: channel %d", domain.ErrChatNotFound, id)
}

func (c *Client) resolveBasicChat(ctx context.Context, id int64) (domain.Chat, error) {
	res, err := c.api.MessagesGetChats(ctx, []int64{id})
	if err != nil {
		return domain.Chat{}, err
	}
	for _, raw := range chatsFromMessagesChats(res) {
		if chat, ok := chatFromClass(raw); ok && chat.ID == id {
			return chat, nil
		}
	}
	return domain.Chat{}, fmt.Errorf("%w: chat %d", domain.ErrChatNotFound, id)
}

func chatsFromMessagesChats(res tg.MessagesChatsClass) []tg.ChatClass {
	switch v := res.(type) {
	case *tg.MessagesChats:
		return v.Chats
	case *tg.MessagesChatsSlice:
		return v.Chats
	}
	return nil
}

func chatFromClass(raw tg.ChatClass) (domain.Chat, bool) {
	switch v := raw.(type) {
	case *tg.Channel:
		return domain.Chat{ID: v.ID, AccessHash: v.AccessHash, Kind: domain.ChatKindChannel, Title: v.Title}, true
	case *tg.Chat:
		return domain.Chat{ID: v.ID, Kind: domain.ChatKindBasic, Title: v.Title}, true
	}
	return domain.Chat{}, false
}
