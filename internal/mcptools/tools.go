// Package mcptools exposes the session and its data as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/danmuck/wabridge/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

var (
	ErrNilSession = errors.New("mcptools: nil session")
	ErrNilFetcher = errors.New("mcptools: nil fetcher")
)

const serverName = "wabridge"

// Session is the read side of the session lifecycle used by the tools.
type Session interface {
	Snapshot() session.Snapshot
	PairingArtifact() (string, bool)
	Handle() (messenger.Capability, error)
}

// Tools binds tool handlers to one session and fetcher.
type Tools struct {
	session Session
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

func New(sess Session, fetcher *fetch.Fetcher) (*Tools, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	return &Tools{
		session: sess,
		fetcher: fetcher,
		logger:  observability.Component("mcp"),
	}, nil
}

// NewServer builds an MCP server with every tool registered.
func NewServer(version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	t.Register(s)
	return s
}

// Serve runs the server over the given streams until ctx ends or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Report the messaging session status, last error and whether an access credential was issued."),
	), t.sessionStatus)

	s.AddTool(mcp.NewTool("pairing_qr",
		mcp.WithDescription("Return the pairing QR payload while the session waits for a scan."),
	), t.pairingQR)

	s.AddTool(mcp.NewTool("list_chats",
		mcp.WithDescription("List conversations. Falls back through alternative retrieval strategies when the primary one fails."),
	), t.listChats)

	s.AddTool(mcp.NewTool("recent_chat",
		mcp.WithDescription("Return the conversation with the most recent activity."),
	), t.recentChat)

	s.AddTool(mcp.NewTool("get_messages",
		mcp.WithDescription("Return the latest messages of a conversation."),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Conversation id, e.g. 123456789@c.us"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages (default from service config)"),
		),
	), t.getMessages)

	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message to a conversation."),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Conversation id"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message body"),
		),
	), t.sendMessage)
}

type statusView struct {
	Status        session.Status `json:"status"`
	Error         string         `json:"error,omitempty"`
	HasCredential bool           `json:"hasCredential"`
	RetryAttempt  int            `json:"retryAttempt"`
}

func (t *Tools) sessionStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := t.session.Snapshot()
	return jsonResult(statusView{
		Status:        snap.Status,
		Error:         snap.LastError,
		HasCredential: snap.HasCredential,
		RetryAttempt:  snap.RetryAttempt,
	})
}

func (t *Tools) pairingQR(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, ok := t.session.PairingArtifact()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no pairing code available (status %s)", t.session.Snapshot().Status)), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func (t *Tools) listChats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, errResult := t.fetch(ctx, fetch.Conversations())
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(res.Records)
}

func (t *Tools) recentChat(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, errResult := t.fetch(ctx, fetch.Conversations())
	if errResult != nil {
		return errResult, nil
	}
	chat, _ := fetch.MostRecent(res.Records)
	return jsonResult(chat)
}

func (t *Tools) getMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	res, errResult := t.fetch(ctx, fetch.Messages(chatID, limit))
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(res.Records)
}

func (t *Tools) sendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(body) == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	h, err := t.session.Handle()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.fetcher.Budget())
	defer cancel()
	sent, err := h.SendMessage(ctx, strings.TrimSpace(chatID), body)
	if err != nil {
		t.logger.Warn().Err(err).Str("chat", chatID).Msg("send message failed")
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", err)), nil
	}
	record := fetch.Record{Kind: fetch.KindMessages, Title: body, Flag: true}
	if records := fetch.NormalizeMessages([]messenger.Message{sent}); len(records) == 1 {
		record = records[0]
	}
	return jsonResult(record)
}

// fetch returns a tool error result for not-ready sessions and chain failures.
func (t *Tools) fetch(ctx context.Context, q fetch.Query) (fetch.Result, *mcp.CallToolResult) {
	h, err := t.session.Handle()
	if err != nil {
		return fetch.Result{}, mcp.NewToolResultError(err.Error())
	}
	res, err := t.fetcher.Fetch(ctx, h, q)
	if err != nil {
		t.logger.Warn().Err(err).Str("kind", string(q.Kind)).Msg("tool fetch failed")
		return fetch.Result{}, mcp.NewToolResultError(err.Error())
	}
	return res, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcptools: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
