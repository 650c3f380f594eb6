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

// ErrUnsupportedSession формат сессии не распознан.
var ErrUnsupportedSession = errors.New("mtproto: неизвестный формат сессии")

// sessionDecoder переводит один внешний формат в session.Data.
type sessionDecoder struct {
	name   string
	decode func(raw []byte) (session.Data, error)
}

var sessionDecoders = []sessionDecoder{
	{name: "telethon_account_json", decode: decodeAccountJSON},
	{name: "telethon_sqlite_dump", decode: decodeSQLiteDump},
	{name: "telethon_string", decode: decodeStringSession},
}

// ImportSession приводит сессию к JSON-формату gotd. Поддерживаются
// строковая сессия Telethon, JSON-выгрузка её sqlite-таблицы и аккаунт с
// полем extra_params. Второе значение содержит имя исходного формата или
// пустую строку, если данные уже в формате gotd.
func ImportSession(raw []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("mtproto: пустая сессия")
	}

	var native struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &native); err == nil && native.Version != 0 {
		return append([]byte(nil), trimmed...), "", nil
	}

	for _, d := range sessionDecoders {
		data, err := d.decode(trimmed)
		if err != nil {
			continue
		}
		out, err := encodeSession(data)
		if err != nil {
			return nil, "", err
		}
		return out, d.name, nil
	}
	return nil, "", ErrUnsupportedSession
}

func decodeAccountJSON(raw []byte) (session.Data, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return session.Data{}, err
	}
	if account.ExtraParams == "" {
		return session.Data{}, fmt.Errorf("нет extra_params")
	}
	return decodeStringSession([]byte(account.ExtraParams))
}

func decodeSQLiteDump(raw []byte) (session.Data, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return session.Data{}, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return sessionFromKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return session.Data{}, fmt.Errorf("нет строк с ключом")
}

func decodeStringSession(raw []byte) (session.Data, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if candidate == "" {
		return session.Data{}, fmt.Errorf("пустая строковая сессия")
	}
	data, err := session.TelethonSession(candidate)
	if err != nil {
		return session.Data{}, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, port, ok := splitAddr(data.Addr); ok {
			data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
		}
	}
	return *data, nil
}

func splitAddr(addr string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

// sessionFromKey собирает session.Data из hex-ключа авторизации.
func sessionFromKey(dcID int, host string, port int, authKeyHex string) (session.Data, error) {
	rawKey, err := hex.DecodeString(strings.Trim(strings.TrimSpace(authKeyHex), "'\""))
	if err != nil {
		return session.Data{}, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return session.Data{}, fmt.Errorf("auth_key: длина %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}, nil
}

// encodeSession формат session.Storage в gotd: {"Version":1,"Data":{...}}.
func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
