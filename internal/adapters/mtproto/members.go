package mtproto

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-member-mirror/internal/domain"
	"tg-member-mirror/internal/infra/metrics"
)

// EnumerateMembers отдаёт участников чата по мере загрузки страниц.
// Последовательность конечна и не перезапускается.
func (c *Client) EnumerateMembers(ctx context.Context, chat domain.Chat) iter.Seq2[domain.RawMember, error] {
	return func(yield func(domain.RawMember, error) bool) {
		if chat.Kind == domain.ChatKindBasic {
			c.enumerateBasic(ctx, chat, yield)
			return
		}
		c.enumerateChannel(ctx, chat, yield)
	}
}

// searchQueries перебирают участников поиском, когда фильтр Recent
// отдаёт не всех: сервер ограничивает его примерно десятью тысячами.
var searchQueries = func() []string {
	qs := []string{""}
	for r := '0'; r <= '9'; r++ {
		qs = append(qs, string(r))
	}
	for r := 'a'; r <= 'z'; r++ {
		qs = append(qs, string(r))
	}
	return qs
}()

func (c *Client) enumerateChannel(ctx context.Context, chat domain.Chat, yield func(domain.RawMember, error) bool) {
	channel := &tg.InputChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
	seen := make(map[int64]struct{})
	total, ok := c.fetchParticipants(ctx, chat, channel, &tg.ChannelParticipantsRecent{}, seen, yield)
	if !ok || len(seen) >= total {
		return
	}
	c.log.Info().Int64("chat", chat.ID).Int("seen", len(seen)).Int("total", total).
		Msg("mtproto: recent отдал не всех участников, перебираем поиском")
	for _, q := range searchQueries {
		if _, ok := c.fetchParticipants(ctx, chat, channel, &tg.ChannelParticipantsSearch{Q: q}, seen, yield); !ok {
			return
		}
		if len(seen) >= total {
			return
		}
	}
}

// fetchParticipants листает один фильтр до конца и отдаёт ещё не виденных участников.
// Возвращает Count последней страницы и false, если перебор нужно прекратить.
func (c *Client) fetchParticipants(
	ctx context.Context,
	chat domain.Chat,
	channel tg.InputChannelClass,
	filter tg.ChannelParticipantsFilterClass,
	seen map[int64]struct{},
	yield func(domain.RawMember, error) bool,
) (int, bool) {
	offset, total := 0, 0
	for {
		start := time.Now()
		res, err := c.api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  filter,
			Offset:  offset,
			Limit:   c.pageSize,
		})
		metrics.ObserveNetworkRequest("mtproto", "get_participants", c.name, start, err)
		if wait, ok := tgerr.AsFloodWait(err); ok {
			c.log.Warn().Dur("wait", wait).Int("offset", offset).Msg("mtproto: flood wait при загрузке участников")
			if err := sleepContext(ctx, wait); err != nil {
				yield(domain.RawMember{}, err)
				return total, false
			}
			continue
		}
		if err != nil {
			yield(domain.RawMember{}, fmt.Errorf("get participants of %d at %d: %w", chat.ID, offset, err))
			return total, false
		}

		page, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok || len(page.Participants) == 0 {
			return total, true
		}
		total = page.Count
		users := usersByID(page.Users)
		for _, p := range page.Participants {
			userID, ok := participantUserID(p)
			if !ok {
				continue
			}
			if _, dup := seen[userID]; dup {
				continue
			}
			seen[userID] = struct{}{}
			if !yield(c.rawMember(userID, users[userID]), nil) {
				return total, false
			}
		}
		offset += len(page.Participants)
		if offset >= page.Count {
			return total, true
		}
	}
}

func (c *Client) enumerateBasic(ctx context.Context, chat domain.Chat, yield func(domain.RawMember, error) bool) {
	start := time.Now()
	full, err := c.api.MessagesGetFullChat(ctx, chat.ID)
	metrics.ObserveNetworkRequest("mtproto", "get_full_chat", c.name, start, err)
	if err != nil {
		yield(domain.RawMember{}, fmt.Errorf("get full chat %d: %w", chat.ID, err))
		return
	}
	info, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return
	}
	var participants []tg.ChatParticipantClass
	if list, ok := info.Participants.(*tg.ChatParticipants); ok {
		participants = list.Participants
	}
	users := usersByID(full.Users)
	for _, p := range participants {
		userID := p.GetUserID()
		if !yield(c.rawMember(userID, users[userID]), nil) {
			return
		}
	}
}

// ResolveUser возвращает handle, пригодный для приглашения.
// Если access_hash неизвестен, пользователь запрашивается заново.
func (c *Client) ResolveUser(ctx context.Context, member domain.RawMember) (domain.UserHandle, error) {
	if member.AccessHash != 0 {
		return domain.UserHandle{UserID: member.UserID, AccessHash: member.AccessHash, Username: member.Username}, nil
	}
	start := time.Now()
	res, err := c.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: member.UserID}})
	metrics.ObserveNetworkRequest("mtproto", "get_users", c.name, start, err)
	if err != nil {
		return domain.UserHandle{}, &domain.ResolutionError{Ref: fmt.Sprint(member.UserID), Err: err}
	}
	for _, raw := range res {
		u, ok := raw.(*tg.User)
		if !ok || u.ID != member.UserID || u.AccessHash == 0 {
			continue
		}
		return domain.UserHandle{UserID: u.ID, AccessHash: u.AccessHash, Username: u.Username}, nil
	}
	return domain.UserHandle{}, &domain.ResolutionError{Ref: fmt.Sprint(member.UserID), Err: domain.ErrUserNotFound}
}

func (c *Client) rawMember(userID int64, u *tg.User) domain.RawMember {
	m := domain.RawMember{UserID: userID, Self: userID == c.selfID()}
	if u == nil {
		return m
	}
	m.AccessHash = u.AccessHash
	m.Username = u.Username
	m.Self = m.Self || u.Self
	m.Deleted = u.Deleted
	m.Bot = u.Bot
	return m
}

func usersByID(list []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(list))
	for _, raw := range list {
		if u, ok := raw.(*tg.User); ok {
			out[u.ID] = u
		}
	}
	return out
}

func participantUserID(p tg.ChannelParticipantClass) (int64, bool) {
	switch v := p.(type) {
	case *tg.ChannelParticipant:
		return v.UserID, true
	case *tg.ChannelParticipantSelf:
		return v.UserID, true
	case *tg.ChannelParticipantCreator:
		return v.UserID, true
	case *tg.ChannelParticipantAdmin:
		return v.UserID, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
