package fetch

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuery = errors.New("fetch: invalid query")

// Kind selects the collection to retrieve.
type Kind string

const (
	KindConversations Kind = "conversations"
	KindMessages      Kind = "messages"
)

// Query describes one retrieval.
type Query struct {
	Kind           Kind
	ConversationID string
	Limit          int
}

// Conversations is the query for the conversation list.
func Conversations() Query {
	return Query{Kind: KindConversations}
}

// Messages is the query for the latest limit messages of one conversation.
func Messages(conversationID string, limit int) Query {
	return Query{Kind: KindMessages, ConversationID: conversationID, Limit: limit}
}

func (q Query) Validate() error {
	switch q.Kind {
	case KindConversations:
		return nil
	case KindMessages:
		if strings.TrimSpace(q.ConversationID) == "" {
			return fmt.Errorf("%w: conversation id is required", ErrInvalidQuery)
		}
		if q.Limit < 0 {
			return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, q.Kind)
	}
}
