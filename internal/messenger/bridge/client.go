// Package bridge drives a browser-automation sidecar over a websocket.
//
// The sidecar hosts the messaging web client. Requests are JSON frames
// {id, op, args} answered by {id, result, error}; lifecycle signals arrive as
// unsolicited {event, data} frames and are delivered to the observer in order
// on one dispatch goroutine.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrURLRequired  = errors.New("bridge: url required")
	ErrNotConnected = messenger.ErrDisconnected
	ErrRemote       = errors.New("bridge: remote error")
)

const (
	remoteNotFound    = "not_found"
	remoteUnsupported = "unsupported"
	eventBuffer       = 64
)

// Config configures the sidecar connection.
type Config struct {
	URL            string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:3100/bridge",
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

type frame struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// Client is a messenger.Capability backed by the sidecar.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan response
	observer messenger.Observer
	closed   bool

	writeMu sync.Mutex

	events chan messenger.Event
	done   chan struct{}
}

var (
	_ messenger.Capability  = (*Client)(nil)
	_ messenger.CacheReader = (*Client)(nil)
	_ messenger.StoreReader = (*Client)(nil)
	_ messenger.Evaluator   = (*Client)(nil)
)

// New constructs a client; nothing is dialed until Initialize.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	c := &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger:  observability.Component("bridge"),
		pending: make(map[string]chan response),
		events:  make(chan messenger.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c, nil
}

func (c *Client) SetObserver(o messenger.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Initialize connects when needed and asks the sidecar to start the client.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	return c.call(ctx, "initialize", nil, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]messenger.Chat, error) {
	var out []messenger.Chat
	err := c.call(ctx, "listConversations", nil, &out)
	return out, err
}

func (c *Client) GetConversation(ctx context.Context, id string) (messenger.Chat, error) {
	var out messenger.Chat
	err := c.call(ctx, "getConversation", map[string]any{"id": id}, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (messenger.Message, error) {
	var out messenger.Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"conversationId": conversationID,
		"body":           body,
	}, &out)
	return out, err
}

func (c *Client) FetchMessages(ctx context.Context, conversationID string, opts messenger.FetchOptions) ([]messenger.Message, error) {
	var out []messenger.Message
	err := c.call(ctx, "fetchMessages", map[string]any{
		"conversationId": conversationID,
		"limit":          opts.Limit,
	}, &out)
	return out, err
}

func (c *Client) CachedConversations(ctx context.Context) ([]messenger.Chat, error) {
	var out []messenger.Chat
	err := c.call(ctx, "cachedConversations", nil, &out)
	return out, err
}

func (c *Client) StoreConversations(ctx context.Context) ([]messenger.Chat, error) {
	var out []messenger.Chat
	err := c.call(ctx, "storeConversations", nil, &out)
	return out, err
}

func (c *Client) StoreMessages(ctx context.Context, conversationID string, limit int) ([]messenger.Message, error) {
	var out []messenger.Message
	err := c.call(ctx, "storeMessages", map[string]any{
		"conversationId": conversationID,
		"limit":          limit,
	}, &out)
	return out, err
}

func (c *Client) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, "evaluate", map[string]any{
		"script": script,
		"args":   args,
	}, &out)
	return out, err
}

// Close drops the connection and stops event dispatch.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return messenger.ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		if c.closed {
			return messenger.ErrClosed
		}
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info().Str("url", c.cfg.URL).Msg("bridge connected")
	go c.readLoop(conn)
	return nil
}

func (c *Client) call(ctx context.Context, op string, args any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	id := uuid.NewString()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return messenger.ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err := conn.WriteJSON(request{ID: id, Op: op, Args: args})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrNotConnected, op, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out == nil || len(resp.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("bridge: decode %s result: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: %s: %w", op, ctx.Err())
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.connectionLost(conn, err)
			return
		}
		switch {
		case f.Event != "":
			c.handleEvent(f)
		case f.ID != "":
			c.resolve(f)
		default:
			c.logger.Debug().Msg("bridge frame ignored")
		}
	}
}

func (c *Client) handleEvent(f frame) {
	data := ""
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			data = string(f.Data)
		}
	}
	ev, err := messenger.DecodeEvent(messenger.EventKind(f.Event), data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bridge event dropped")
		return
	}
	c.emit(ev)
}

func (c *Client) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("id", f.ID).Msg("bridge response without request")
		return
	}
	deliver(ch, response{result: f.Result, err: remoteError(f.Error)})
}

func (c *Client) connectionLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		deliver(ch, response{err: fmt.Errorf("%w: %v", ErrNotConnected, err)})
	}
	if closed {
		return
	}
	c.logger.Warn().Err(err).Msg("bridge connection lost")
	c.emit(messenger.Disconnected{Reason: err.Error()})
}

// deliver never blocks the read loop; a full slot means the caller already
// has its answer or stopped waiting.
func deliver(ch chan response, resp response) {
	select {
	case ch <- resp:
	default:
	}
}

func (c *Client) emit(ev messenger.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.Lock()
			o := c.observer
			c.mu.Unlock()
			if o != nil {
				o.HandleEvent(ev)
			}
		}
	}
}

func remoteError(msg string) error {
	switch msg {
	case "":
		return nil
	case remoteNotFound:
		return messenger.ErrConversationNotFound
	case remoteUnsupported:
		return messenger.ErrUnsupported
	default:
		return fmt.Errorf("%w: %s", ErrRemote, msg)
	}
}
