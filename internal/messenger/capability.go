package messenger

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrConversationNotFound = errors.New("messenger: conversation not found")
	ErrUnsupported          = errors.New("messenger: operation unsupported")
	ErrClosed               = errors.New("messenger: capability closed")
	// ErrDisconnected is returned for calls cut short by a dropped
	// connection. The drop itself is reported as a Disconnected event.
	ErrDisconnected = errors.New("messenger: not connected")
)

// FetchOptions bounds a message fetch.
type FetchOptions struct {
	Limit int
}

// Observer receives lifecycle events. Calls are serialized by the capability.
type Observer interface {
	HandleEvent(Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HandleEvent(ev Event) {
	f(ev)
}

// Capability is the messaging client as seen by this process.
//
// Initialize only starts the client; progress is reported through the
// observer, never through its return value (an error means the attempt could
// not even be launched).
type Capability interface {
	SetObserver(Observer)
	Initialize(ctx context.Context) error
	ListConversations(ctx context.Context) ([]Chat, error)
	GetConversation(ctx context.Context, id string) (Chat, error)
	SendMessage(ctx context.Context, conversationID, body string) (Message, error)
	FetchMessages(ctx context.Context, conversationID string, opts FetchOptions) ([]Message, error)
	Close() error
}

// CacheReader exposes the client's internally cached conversation list.
type CacheReader interface {
	CachedConversations(ctx context.Context) ([]Chat, error)
}

// StoreReader exposes store-level accessors that bypass the client API.
type StoreReader interface {
	StoreConversations(ctx context.Context) ([]Chat, error)
	StoreMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Evaluator runs a script inside the automated page and returns its JSON result.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error)
}
