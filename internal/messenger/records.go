package messenger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a client identifier. The client reports ids either as plain strings or
// as objects carrying a serialized form; both decode to the serialized string.
type ID string

func (id ID) String() string {
	return string(id)
}

type idObject struct {
	Serialized string `json:"_serialized"`
	User       string `json:"user"`
	Server     string `json:"server"`
	ID         string `json:"id"`
	Remote     string `json:"remote"`
	FromMe     *bool  `json:"fromMe"`
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	case '{':
		var obj idObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*id = ID(obj.serialized())
		return nil
	default:
		// numeric ids show up from some store accessors
		*id = ID(string(data))
		return nil
	}
}

func (o idObject) serialized() string {
	if o.Serialized != "" {
		return o.Serialized
	}
	if o.User != "" && o.Server != "" {
		return o.User + "@" + o.Server
	}
	if o.Remote != "" && o.ID != "" {
		fromMe := "false"
		if o.FromMe != nil && *o.FromMe {
			fromMe = "true"
		}
		return fromMe + "_" + o.Remote + "_" + o.ID
	}
	return o.ID
}

// Timestamp is seconds since epoch as reported by the client. Zero means absent.
type Timestamp int64

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*ts = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*ts = Timestamp(n)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("messenger: invalid timestamp %q", raw)
	}
	*ts = Timestamp(int64(f))
	return nil
}

// Valid reports whether the timestamp carries a value.
func (ts Timestamp) Valid() bool {
	return ts > 0
}

// Chat is a conversation summary in client representation.
type Chat struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	IsGroup     bool      `json:"isGroup"`
	Timestamp   Timestamp `json:"timestamp"`
	UnreadCount int       `json:"unreadCount"`
}

// Message is a single message in client representation.
type Message struct {
	ID        ID        `json:"id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"fromMe"`
	Timestamp Timestamp `json:"timestamp"`
	Author    string    `json:"author,omitempty"`
}
