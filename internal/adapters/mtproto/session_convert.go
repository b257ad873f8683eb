package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat возвращается, если данные сессии не распознаны.
var ErrUnsupportedSessionFormat = errors.New("unsupported MTProto session format")

// SessionFormat описывает исходный формат импортируемой сессии.
type SessionFormat string

const (
	SessionFormatGotd            SessionFormat = "gotd"
	SessionFormatTelethonAccount SessionFormat = "telethon_account"
	SessionFormatTelethonRows    SessionFormat = "telethon_rows"
	SessionFormatTelethonString  SessionFormat = "telethon_string"
)

// NormalizeSession приводит сессию к JSON, который читает session.Storage gotd.
// Поддерживаются gotd JSON, JSON аккаунта с extra_params, выгрузка таблицы
// sessions Telethon и строковая сессия Telethon.
func NormalizeSession(raw []byte) ([]byte, SessionFormat, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrUnsupportedSessionFormat)
	}

	var stored struct {
		Version int
	}
	if json.Unmarshal(raw, &stored) == nil && stored.Version > 0 {
		return append([]byte(nil), raw...), SessionFormatGotd, nil
	}

	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if json.Unmarshal(raw, &account) == nil && account.ExtraParams != "" {
		out, err := fromTelethonString(account.ExtraParams)
		if err != nil {
			return nil, "", err
		}
		return out, SessionFormatTelethonAccount, nil
	}

	var rows []telethonRow
	if json.Unmarshal(raw, &rows) == nil {
		for _, row := range rows {
			if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
				continue
			}
			out, err := row.encode()
			if err != nil {
				return nil, "", err
			}
			return out, SessionFormatTelethonRows, nil
		}
		return nil, "", fmt.Errorf("%w: no usable telethon rows", ErrUnsupportedSessionFormat)
	}

	if out, err := fromTelethonString(string(raw)); err == nil {
		return out, SessionFormatTelethonString, nil
	}
	return nil, "", ErrUnsupportedSessionFormat
}

type telethonRow struct {
	DCID          int    `json:"dc_id"`
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	AuthKey       string `json:"auth_key"`
}

func (r telethonRow) encode() ([]byte, error) {
	keyBytes, err := hex.DecodeString(strings.Trim(strings.TrimSpace(r.AuthKey), `'"`))
	if err != nil {
		return nil, fmt.Errorf("decode auth_key: %w", err)
	}
	var key crypto.Key
	if len(keyBytes) != len(key) {
		return nil, fmt.Errorf("auth_key must be %d bytes, got %d", len(key), len(keyBytes))
	}
	copy(key[:], keyBytes)
	id := key.WithID().ID

	return encodeSession(session.Data{
		Config: session.Config{
			ThisDC:    r.DCID,
			DCOptions: []tg.DCOption{{ID: r.DCID, IPAddress: r.ServerAddress, Port: r.Port}},
		},
		DC:        r.DCID,
		Addr:      net.JoinHostPort(r.ServerAddress, strconv.Itoa(r.Port)),
		AuthKey:   key[:],
		AuthKeyID: id[:],
	})
}

func fromTelethonString(s string) ([]byte, error) {
	s = strings.Trim(strings.TrimSpace(s), `'"`)
	if s == "" {
		return nil, fmt.Errorf("%w: empty telethon string", ErrUnsupportedSessionFormat)
	}
	data, err := session.TelethonSession(s)
	if err != nil {
		return nil, fmt.Errorf("telethon string: %w", err)
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if len(data.Config.DCOptions) == 0 && data.Addr != "" {
		if host, port, err := net.SplitHostPort(data.Addr); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: p}}
			}
		}
	}
	return encodeSession(*data)
}

// encodeSession повторяет обёртку, в которой session.Loader хранит данные.
func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int
		Data    session.Data
	}{Version: 1, Data: data})
}
