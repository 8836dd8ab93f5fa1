// Package fakemessenger provides an in-memory messenger.Capability for tests.
package fakemessenger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danmuck/wabridge/internal/messenger"
)

// Capability is a scriptable capability. Data fields are read under mu;
// hooks, when set, replace the default behavior.
type Capability struct {
	mu sync.Mutex

	observer  messenger.Observer
	initCalls int
	closed    bool

	InitErr      error
	OnInitialize func()

	Chats    []messenger.Chat
	Messages map[string][]messenger.Message
	Sent     []messenger.Message

	ListHook   func(ctx context.Context) ([]messenger.Chat, error)
	CacheHook  func(ctx context.Context) ([]messenger.Chat, error)
	StoreHook  func(ctx context.Context) ([]messenger.Chat, error)
	SendHook   func(ctx context.Context, conversationID, body string) (messenger.Message, error)
	EvalResult json.RawMessage
	EvalErr    error
}

var (
	_ messenger.Capability  = (*Capability)(nil)
	_ messenger.CacheReader = (*Capability)(nil)
	_ messenger.StoreReader = (*Capability)(nil)
	_ messenger.Evaluator   = (*Capability)(nil)
)

func New() *Capability {
	return &Capability{Messages: make(map[string][]messenger.Message)}
}

func (c *Capability) SetObserver(o messenger.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Emit delivers ev to the observer on the caller's goroutine.
func (c *Capability) Emit(ev messenger.Event) {
	c.mu.Lock()
	o := c.observer
	c.mu.Unlock()
	if o != nil {
		o.HandleEvent(ev)
	}
}

func (c *Capability) Initialize(context.Context) error {
	c.mu.Lock()
	c.initCalls++
	err := c.InitErr
	hook := c.OnInitialize
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// InitCalls reports how many times Initialize ran.
func (c *Capability) InitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCalls
}

func (c *Capability) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Capability) ListConversations(ctx context.Context) ([]messenger.Chat, error) {
	if c.ListHook != nil {
		return c.ListHook(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messenger.Chat(nil), c.Chats...), nil
}

func (c *Capability) GetConversation(_ context.Context, id string) (messenger.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range c.Chats {
		if chat.ID.String() == id {
			return chat, nil
		}
	}
	return messenger.Chat{}, messenger.ErrConversationNotFound
}

func (c *Capability) SendMessage(ctx context.Context, conversationID, body string) (messenger.Message, error) {
	if c.SendHook != nil {
		return c.SendHook(ctx, conversationID, body)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := messenger.Message{
		ID:        messenger.ID("sent-" + conversationID),
		Body:      body,
		FromMe:    true,
		Timestamp: 1700000000,
	}
	c.Sent = append(c.Sent, msg)
	c.Messages[conversationID] = append(c.Messages[conversationID], msg)
	return msg, nil
}

func (c *Capability) FetchMessages(_ context.Context, conversationID string, opts messenger.FetchOptions) ([]messenger.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.Messages[conversationID]
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	return append([]messenger.Message(nil), msgs...), nil
}

func (c *Capability) CachedConversations(ctx context.Context) ([]messenger.Chat, error) {
	if c.CacheHook != nil {
		return c.CacheHook(ctx)
	}
	return nil, messenger.ErrUnsupported
}

func (c *Capability) StoreConversations(ctx context.Context) ([]messenger.Chat, error) {
	if c.StoreHook != nil {
		return c.StoreHook(ctx)
	}
	return nil, messenger.ErrUnsupported
}

func (c *Capability) StoreMessages(context.Context, string, int) ([]messenger.Message, error) {
	return nil, messenger.ErrUnsupported
}

func (c *Capability) Evaluate(context.Context, string, ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EvalErr != nil {
		return nil, c.EvalErr
	}
	if c.EvalResult == nil {
		return nil, messenger.ErrUnsupported
	}
	return c.EvalResult, nil
}

func (c *Capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
