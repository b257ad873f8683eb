package mtproto

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidChatRef возвращается для ссылок, которые нельзя разобрать.
var ErrInvalidChatRef = errors.New("invalid chat reference")

type chatRefKind int

const (
	chatRefUsername chatRefKind = iota
	chatRefInvite
	chatRefChannelID
	chatRefChatID
)

type chatRef struct {
	kind     chatRefKind
	username string
	hash     string
	id       int64
}

// channelIDOffset: смещение идентификаторов каналов в формате Bot API (-100…).
const channelIDOffset = 1_000_000_000_000

// parseChatRef понимает @username, ссылки t.me, приглашения (+hash, joinchat/hash)
// и числовые идентификаторы. Положительный идентификатор считается идентификатором канала.
func parseChatRef(raw string) (chatRef, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return chatRef{}, fmt.Errorf("%w: empty", ErrInvalidChatRef)
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		switch {
		case id == math.MinInt64 || id == -channelIDOffset:
			return chatRef{}, fmt.Errorf("%w: id %d out of range", ErrInvalidChatRef, id)
		case id <= -channelIDOffset:
			return chatRef{kind: chatRefChannelID, id: -id - channelIDOffset}, nil
		case id < 0:
			return chatRef{kind: chatRefChatID, id: -id}, nil
		case id > 0:
			return chatRef{kind: chatRefChannelID, id: id}, nil
		default:
			return chatRef{}, fmt.Errorf("%w: zero id", ErrInvalidChatRef)
		}
	}

	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	for _, host := range []string{"t.me/", "telegram.me/", "telegram.dog/"} {
		if strings.HasPrefix(strings.ToLower(ref), host) {
			ref = ref[len(host):]
			break
		}
	}

	switch {
	case strings.HasPrefix(ref, "+"):
		return inviteRef(strings.TrimPrefix(ref, "+"))
	case strings.HasPrefix(ref, "joinchat/"):
		return inviteRef(strings.TrimPrefix(ref, "joinchat/"))
	}

	ref = strings.TrimPrefix(ref, "@")
	if i := strings.IndexAny(ref, "/?"); i >= 0 {
		ref = ref[:i]
	}
	if !validUsername(ref) {
		return chatRef{}, fmt.Errorf("%w: %q", ErrInvalidChatRef, raw)
	}
	return chatRef{kind: chatRefUsername, username: ref}, nil
}

func inviteRef(hash string) (chatRef, error) {
	if i := strings.IndexAny(hash, "/?"); i >= 0 {
		hash = hash[:i]
	}
	if hash == "" {
		return chatRef{}, fmt.Errorf("%w: empty invite hash", ErrInvalidChatRef)
	}
	return chatRef{kind: chatRefInvite, hash: hash}, nil
}

func validUsername(name string) bool {
	if len(name) < 4 || len(name) > 32 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
