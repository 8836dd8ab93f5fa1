package fetch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/danmuck/wabridge/internal/messenger"
)

const PlaceholderID = "placeholder"

// Record is one normalized conversation or message summary. Title is the
// display name for conversations and the body for messages; Flag is isGroup
// or fromMe respectively.
type Record struct {
	Kind        Kind
	ID          string
	Title       string
	Timestamp   *time.Time
	Flag        bool
	Placeholder bool
}

type conversationJSON struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	IsGroup     bool    `json:"isGroup"`
	Timestamp   *string `json:"timestamp"`
	Placeholder bool    `json:"placeholder,omitempty"`
}

type messageJSON struct {
	ID          string  `json:"id"`
	Body        string  `json:"body"`
	FromMe      bool    `json:"fromMe"`
	Timestamp   *string `json:"timestamp"`
	Placeholder bool    `json:"placeholder,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	var ts *string
	if r.Timestamp != nil {
		s := r.Timestamp.UTC().Format(time.RFC3339)
		ts = &s
	}
	if r.Kind == KindMessages {
		return json.Marshal(messageJSON{
			ID:          r.ID,
			Body:        r.Title,
			FromMe:      r.Flag,
			Timestamp:   ts,
			Placeholder: r.Placeholder,
		})
	}
	return json.Marshal(conversationJSON{
		ID:          r.ID,
		Name:        r.Title,
		IsGroup:     r.Flag,
		Timestamp:   ts,
		Placeholder: r.Placeholder,
	})
}

// Raw is a strategy's output before normalization.
type Raw struct {
	Chats    []messenger.Chat
	Messages []messenger.Message
}

func normalize(kind Kind, raw Raw) []Record {
	if kind == KindMessages {
		return NormalizeMessages(raw.Messages)
	}
	return NormalizeChats(raw.Chats)
}

// NormalizeChats maps client chats into records, dropping entries without an id.
func NormalizeChats(chats []messenger.Chat) []Record {
	out := make([]Record, 0, len(chats))
	for _, chat := range chats {
		id := chat.ID.String()
		if id == "" {
			continue
		}
		name := chat.Name
		if name == "" {
			name = id
		}
		out = append(out, Record{
			Kind:      KindConversations,
			ID:        id,
			Title:     name,
			Timestamp: toTime(chat.Timestamp),
			Flag:      chat.IsGroup,
		})
	}
	return out
}

// NormalizeMessages maps client messages into records, dropping entries without an id.
func NormalizeMessages(msgs []messenger.Message) []Record {
	out := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		id := msg.ID.String()
		if id == "" {
			continue
		}
		out = append(out, Record{
			Kind:      KindMessages,
			ID:        id,
			Title:     msg.Body,
			Timestamp: toTime(msg.Timestamp),
			Flag:      msg.FromMe,
		})
	}
	return out
}

func toTime(ts messenger.Timestamp) *time.Time {
	if !ts.Valid() {
		return nil
	}
	t := time.Unix(int64(ts), 0).UTC()
	return &t
}

func placeholder(q Query) Record {
	if q.Kind == KindMessages {
		return Record{
			Kind:        KindMessages,
			ID:          PlaceholderID,
			Title:       "Messages are not available right now",
			Placeholder: true,
		}
	}
	return Record{
		Kind:        KindConversations,
		ID:          PlaceholderID,
		Title:       "Conversations are not available right now",
		Placeholder: true,
	}
}

// SortByRecent returns a copy ordered newest first. Missing timestamps count
// as epoch 0; ties keep their input order.
func SortByRecent(records []Record) []Record {
	out := append([]Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return unix(out[i]) > unix(out[j])
	})
	return out
}

// MostRecent selects the newest record.
func MostRecent(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	return SortByRecent(records)[0], true
}

func unix(r Record) int64 {
	if r.Timestamp == nil {
		return 0
	}
	return r.Timestamp.Unix()
}
