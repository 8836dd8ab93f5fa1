package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/wabridge/internal/messenger"
)

// Strategy is one way of retrieving a collection from the client.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error)
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(ctx context.Context, h messenger.Capability, q Query) (Raw, error)
}

func (s StrategyFunc) Name() string {
	return s.Label
}

func (s StrategyFunc) Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error) {
	return s.Fn(ctx, h, q)
}

// Primary uses the client's structured API.
type Primary struct{}

func (Primary) Name() string { return "primary" }

func (Primary) Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error) {
	switch q.Kind {
	case KindConversations:
		chats, err := h.ListConversations(ctx)
		return Raw{Chats: chats}, err
	case KindMessages:
		msgs, err := h.FetchMessages(ctx, q.ConversationID, messenger.FetchOptions{Limit: q.Limit})
		return Raw{Messages: msgs}, err
	default:
		return Raw{}, unsupportedKind("primary", q.Kind)
	}
}

// Cache reads the client's internally cached conversation list.
type Cache struct{}

func (Cache) Name() string { return "cache" }

func (Cache) Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error) {
	reader, ok := h.(messenger.CacheReader)
	if !ok || q.Kind != KindConversations {
		return Raw{}, unsupportedKind("cache", q.Kind)
	}
	chats, err := reader.CachedConversations(ctx)
	return Raw{Chats: chats}, err
}

// Store uses store-level accessors that bypass the client API.
type Store struct{}

func (Store) Name() string { return "store" }

func (Store) Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error) {
	reader, ok := h.(messenger.StoreReader)
	if !ok {
		return Raw{}, unsupportedKind("store", q.Kind)
	}
	switch q.Kind {
	case KindConversations:
		chats, err := reader.StoreConversations(ctx)
		return Raw{Chats: chats}, err
	case KindMessages:
		msgs, err := reader.StoreMessages(ctx, q.ConversationID, q.Limit)
		return Raw{Messages: msgs}, err
	default:
		return Raw{}, unsupportedKind("store", q.Kind)
	}
}

// Eval reads the collections directly from the automated page.
type Eval struct{}

const (
	evalConversationsScript = `() => (window.Store && window.Store.Chat ? window.Store.Chat.getModelsArray() : []).map(c => ({
  id: c.id && c.id._serialized,
  name: c.formattedTitle || c.name || (c.contact && c.contact.pushname) || "",
  isGroup: !!c.isGroup,
  timestamp: c.t || null,
  unreadCount: c.unreadCount || 0
}))`
	evalMessagesScript = `(chatId, limit) => {
  const chat = window.Store && window.Store.Chat ? window.Store.Chat.get(chatId) : null;
  if (!chat) return [];
  const msgs = chat.msgs.getModelsArray();
  return msgs.slice(Math.max(0, msgs.length - limit)).map(m => ({
    id: m.id && m.id._serialized,
    body: m.body || "",
    fromMe: !!(m.id && m.id.fromMe),
    timestamp: m.t || null,
    author: m.author ? m.author._serialized : ""
  }));
}`
)

func (Eval) Name() string { return "eval" }

func (Eval) Fetch(ctx context.Context, h messenger.Capability, q Query) (Raw, error) {
	evaluator, ok := h.(messenger.Evaluator)
	if !ok {
		return Raw{}, unsupportedKind("eval", q.Kind)
	}
	switch q.Kind {
	case KindConversations:
		data, err := evaluator.Evaluate(ctx, evalConversationsScript)
		if err != nil {
			return Raw{}, err
		}
		var chats []messenger.Chat
		if err := decodeEval(data, &chats); err != nil {
			return Raw{}, err
		}
		return Raw{Chats: chats}, nil
	case KindMessages:
		data, err := evaluator.Evaluate(ctx, evalMessagesScript, q.ConversationID, q.Limit)
		if err != nil {
			return Raw{}, err
		}
		var msgs []messenger.Message
		if err := decodeEval(data, &msgs); err != nil {
			return Raw{}, err
		}
		return Raw{Messages: msgs}, nil
	default:
		return Raw{}, unsupportedKind("eval", q.Kind)
	}
}

func decodeEval(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("fetch: decode eval result: %w", err)
	}
	return nil
}

func unsupportedKind(strategy string, kind Kind) error {
	return fmt.Errorf("%w: strategy=%s kind=%s", messenger.ErrUnsupported, strategy, kind)
}
