package mtproto

import (
	"context"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

const errAlreadyParticipant = "USER_ALREADY_PARTICIPANT"

// Ошибки, относящиеся к одному пользователю: в базовых группах такой
// пользователь пропускается, остальные добавляются.
var userSkipErrors = []string{
	"USER_PRIVACY_RESTRICTED",
	"USER_NOT_MUTUAL_CONTACT",
	"USER_CHANNELS_TOO_MUCH",
	"USER_KICKED",
	"USER_BANNED_IN_CHANNEL",
	"USER_ID_INVALID",
	"USER_DELETED",
	"BOT_GROUPS_BLOCKED",
}

// SubmitBatch приглашает пачку пользователей в чат назначения.
func (c *Client) SubmitBatch(ctx context.Context, chat domain.Chat, batch domain.Batch) domain.SubmitResult {
	if len(batch) == 0 {
		return domain.SubmitAdded(0)
	}
	if chat.Kind == domain.ChatKindBasic {
		return c.submitBasic(ctx, chat, batch)
	}
	return c.submitChannel(ctx, chat, batch)
}

func (c *Client) submitChannel(ctx context.Context, chat domain.Chat, batch domain.Batch) domain.SubmitResult {
	users := make([]tg.InputUserClass, 0, len(batch))
	for _, h := range batch {
		users = append(users, &tg.InputUser{UserID: h.UserID, AccessHash: h.AccessHash})
	}
	start := time.Now()
	res, err := c.api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: &tg.InputChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
		Users:   users,
	})
	metrics.ObserveNetworkRequest("mtproto", "invite_to_channel", c.name, start, err)
	if err != nil {
		return classifySubmitError(err)
	}
	added := len(batch)
	if res != nil {
		added -= len(res.MissingInvitees)
		if len(res.MissingInvitees) > 0 {
			c.log.Debug().Int("missing", len(res.MissingInvitees)).Msg("mtproto: часть пользователей не приглашена")
		}
	}
	return domain.SubmitAdded(added)
}

func (c *Client) submitBasic(ctx context.Context, chat domain.Chat, batch domain.Batch) domain.SubmitResult {
	added := 0
	for _, h := range batch {
		start := time.Now()
		_, err := c.api.MessagesAddChatUser(ctx, &tg.MessagesAddChatUserRequest{
			ChatID:   chat.ID,
			UserID:   &tg.InputUser{UserID: h.UserID, AccessHash: h.AccessHash},
			FwdLimit: 100,
		})
		metrics.ObserveNetworkRequest("mtproto", "add_chat_user", c.name, start, err)
		switch {
		case err == nil, tgerr.Is(err, errAlreadyParticipant):
			added++
		case tgerr.Is(err, userSkipErrors...):
			c.log.Debug().Int64("user", h.UserID).Err(err).Msg("mtproto: пользователь пропущен")
		default:
			return classifySubmitError(err)
		}
	}
	return domain.SubmitAdded(added)
}

// classifySubmitError переводит ошибку Telegram в результат отправки.
func classifySubmitError(err error) domain.SubmitResult {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return domain.SubmitRetryAfter(wait, err)
	}
	if tgerr.Is(err, errAlreadyParticipant) {
		return domain.SubmitResult{Status: domain.SubmitAlreadyMember, Err: err}
	}
	return domain.SubmitError(err)
}
