// Package service wires the session, fetch chain and outer surfaces into one
// runnable process.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/wabridge/internal/config"
	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/httpapi"
	"github.com/danmuck/wabridge/internal/mcptools"
	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/messenger/bridge"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/danmuck/wabridge/internal/session"
	"github.com/danmuck/wabridge/internal/sidecar"
	"github.com/rs/zerolog"
)

var ErrInvalidHeartbeat = errors.New("service: invalid heartbeat interval")

const (
	DefaultHeartbeat = 30 * time.Second
	shutdownGrace    = 5 * time.Second
)

// Option customizes a Service.
type Option func(*Service)

// WithCapability replaces the websocket bridge with c.
func WithCapability(c messenger.Capability) Option {
	return func(s *Service) { s.capability = c }
}

func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) { s.heartbeat = d }
}

func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// Service owns one session and the surfaces that read it.
type Service struct {
	cfg        config.Config
	version    string
	heartbeat  time.Duration
	capability messenger.Capability
	lifecycle  *session.Lifecycle
	fetcher    *fetch.Fetcher
	http       *httpapi.Server
	tools      *mcptools.Tools
	logger     zerolog.Logger

	mu      sync.Mutex
	addr    string
	sidecar *sidecar.Process
}

func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		version:   "dev",
		heartbeat: DefaultHeartbeat,
		logger:    observability.Component("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.heartbeat <= 0 {
		return nil, ErrInvalidHeartbeat
	}

	if s.capability == nil {
		client, err := bridge.New(bridge.Config{URL: cfg.BridgeURL})
		if err != nil {
			return nil, err
		}
		s.capability = client
	}

	lifecycle, err := session.NewLifecycle(s.capability, cfg.Session)
	if err != nil {
		return nil, err
	}
	s.lifecycle = lifecycle

	reg := fetch.DefaultRegistry()
	conversations, err := reg.Chain(cfg.ConversationStrategies)
	if err != nil {
		return nil, err
	}
	messages, err := reg.Chain(cfg.MessageStrategies)
	if err != nil {
		return nil, err
	}
	s.fetcher = fetch.New(fetch.Config{
		Budget:        cfg.FetchTimeout,
		DefaultLimit:  cfg.DefaultMessageLimit,
		Conversations: conversations,
		Messages:      messages,
	})

	s.http, err = httpapi.New(httpapi.Config{
		Addr:              cfg.ListenAddr,
		CorsOrigins:       cfg.CorsOrigins,
		RequireCredential: cfg.RequireCredential,
	}, s.lifecycle, s.fetcher)
	if err != nil {
		return nil, err
	}
	s.tools, err = mcptools.New(s.lifecycle, s.fetcher)
	if err != nil {
		return nil, err
	}

	s.lifecycle.OnReady(s.warmConversations)
	return s, nil
}

// Lifecycle returns the session owned by the service.
func (s *Service) Lifecycle() *session.Lifecycle {
	return s.lifecycle
}

// Handler returns the HTTP surface.
func (s *Service) Handler() http.Handler {
	return s.http.Handler()
}

// Addr reports the bound HTTP address once serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext serves HTTP until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("service: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if err := s.bootstrap(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	defer s.teardown()

	srv := s.http.HTTPServer()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", s.Addr()).Str("version", s.version).Msg("http listening")

	err = s.serve(ctx, serveErr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Warn().Err(shutdownErr).Msg("http shutdown")
	}
	return err
}

// RunMCP serves MCP tools over in/out until ctx ends or in closes.
func (s *Service) RunMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	defer s.teardown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	mcpErr := make(chan error, 1)
	go func() {
		mcpErr <- mcptools.Serve(ctx, mcptools.NewServer(s.version, s.tools), in, out)
	}()
	return s.serve(ctx, mcpErr)
}

func (s *Service) bootstrap(ctx context.Context) error {
	if len(s.cfg.SidecarCommand) > 0 {
		if browser, ok := sidecar.NewDetector().Detect(ctx); ok {
			s.logger.Info().
				Str("path", browser.Path).
				Str("version", browser.Version).
				Bool("from_env", browser.FromEnv).
				Msg("browser detected")
		} else {
			s.logger.Warn().Msg("no browser executable found, sidecar may fail to launch one")
		}
		p, err := sidecar.Start(s.cfg.SidecarCommand, nil)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.sidecar = p
		s.mu.Unlock()
	}

	status := s.lifecycle.Start()
	s.logger.Info().Str("status", string(status)).Msg("session starting")
	return nil
}

// serve logs heartbeats until ctx ends or the surface fails.
func (s *Service) serve(ctx context.Context, surfaceErr <-chan error) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	var sidecarDone <-chan struct{}
	s.mu.Lock()
	if s.sidecar != nil {
		sidecarDone = s.sidecar.Done()
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("service shutdown")
			return nil
		case err := <-surfaceErr:
			if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-sidecarDone:
			sidecarDone = nil
			s.logger.Error().Msg("sidecar exited, session will retry on disconnect")
		case <-ticker.C:
			snap := s.lifecycle.Snapshot()
			s.logger.Info().
				Str("status", string(snap.Status)).
				Str("last_error", snap.LastError).
				Bool("has_credential", snap.HasCredential).
				Int("retry_attempt", snap.RetryAttempt).
				Dur("in_status", time.Since(snap.Since)).
				Msg("heartbeat")
		}
	}
}

func (s *Service) teardown() {
	if err := s.lifecycle.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("session close")
	}
	s.mu.Lock()
	p := s.sidecar
	s.sidecar = nil
	s.mu.Unlock()
	if p != nil {
		if err := p.Stop(shutdownGrace); err != nil {
			s.logger.Warn().Err(err).Msg("sidecar stop")
		}
	}
}

// warmConversations runs the conversation chain once per ready transition so
// the log shows which strategy currently serves data.
func (s *Service) warmConversations(h messenger.Capability) error {
	go func() {
		res, err := s.fetcher.Fetch(context.Background(), h, fetch.Conversations())
		if err != nil {
			s.logger.Warn().Err(err).Msg("conversation warmup failed")
			return
		}
		s.logger.Info().
			Str("strategy", res.Strategy).
			Int("conversations", len(res.Records)).
			Bool("placeholder", res.Placeholder).
			Msg("conversation warmup")
	}()
	return nil
}
