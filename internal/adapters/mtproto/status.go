package mtproto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/tg"

	"tg-member-mirror/internal/infra/metrics"
)

const spamBotUsername = "SpamBot"

// ErrNoStatusReply возвращается, если @SpamBot не ответил вовремя.
var ErrNoStatusReply = errors.New("spambot did not reply")

// CheckStatus отправляет /start в @SpamBot и возвращает текст его ответа.
// По ответу видно, ограничен ли аккаунт в приглашениях.
func (c *Client) CheckStatus(ctx context.Context) (string, error) {
	start := time.Now()
	text, err := c.checkStatus(ctx)
	metrics.ObserveNetworkRequest("mtproto", "spambot_status", c.name, start, err)
	return text, err
}

func (c *Client) checkStatus(ctx context.Context) (string, error) {
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: spamBotUsername})
	if err != nil {
		return "", fmt.Errorf("resolve @%s: %w", spamBotUsername, err)
	}
	var bot *tg.User
	for _, raw := range resolved.Users {
		if u, ok := raw.(*tg.User); ok && u.Bot {
			bot = u
			break
		}
	}
	if bot == nil {
		return "", fmt.Errorf("resolve @%s: not a bot", spamBotUsername)
	}
	peer := &tg.InputPeerUser{UserID: bot.ID, AccessHash: bot.AccessHash}

	lastID, err := c.lastMessageID(ctx, peer)
	if err != nil {
		return "", err
	}

	randomID, err := crypto.RandInt64(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("random id: %w", err)
	}
	if _, err := c.api.MessagesStartBot(ctx, &tg.MessagesStartBotRequest{
		Bot:        &tg.InputUser{UserID: bot.ID, AccessHash: bot.AccessHash},
		Peer:       peer,
		RandomID:   randomID,
		StartParam: "start",
	}); err != nil {
		return "", fmt.Errorf("start @%s: %w", spamBotUsername, err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		if err := sleepContext(ctx, time.Second); err != nil {
			return "", err
		}
		text, ok, err := c.replyAfter(ctx, peer, lastID)
		if err != nil {
			return "", err
		}
		if ok {
			return text, nil
		}
	}
	return "", ErrNoStatusReply
}

func (c *Client) lastMessageID(ctx context.Context, peer tg.InputPeerClass) (int, error) {
	msgs, err := c.history(ctx, peer, 1)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if msg, ok := m.(*tg.Message); ok {
			return msg.ID, nil
		}
	}
	return 0, nil
}

func (c *Client) replyAfter(ctx context.Context, peer tg.InputPeerClass, afterID int) (string, bool, error) {
	msgs, err := c.history(ctx, peer, 5)
	if err != nil {
		return "", false, err
	}
	for _, m := range msgs {
		msg, ok := m.(*tg.Message)
		if !ok || msg.Out || msg.ID <= afterID {
			continue
		}
		return msg.Message, true, nil
	}
	return "", false, nil
}

func (c *Client) history(ctx context.Context, peer tg.InputPeerClass, limit int) ([]tg.MessageClass, error) {
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages, nil
	case *tg.MessagesMessagesSlice:
		return v.Messages, nil
	case *tg.MessagesChannelMessages:
		return v.Messages, nil
	}
	return nil, nil
}
