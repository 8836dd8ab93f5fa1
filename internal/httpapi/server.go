// Package httpapi exposes the session and its data over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/wabridge/internal/auth"
	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/observability"
	"github.com/danmuck/wabridge/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	ErrNilSession = errors.New("httpapi: nil session")
	ErrNilFetcher = errors.New("httpapi: nil fetcher")
)

const nodeName = "wabridge"

// Session is the read side of the session lifecycle used by handlers.
type Session interface {
	Snapshot() session.Snapshot
	PairingArtifact() (string, bool)
	Credential() (string, bool)
	Handle() (messenger.Capability, error)
}

// Config configures the HTTP surface.
type Config struct {
	Addr              string
	CorsOrigins       []string
	RequireCredential bool
}

// Server owns the gin engine and the handlers bound to one session.
type Server struct {
	cfg       Config
	session   Session
	fetcher   *fetch.Fetcher
	validator auth.Validator
	router    *gin.Engine
	logger    zerolog.Logger
	now       func() time.Time
}

func New(cfg Config, sess Session, fetcher *fetch.Fetcher) (*Server, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	observability.RegisterMetrics()
	logger := observability.Component("http")

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal server error",
		})
	}))
	r.Use(observability.RequestObserver(logger, nodeName, "/health", "/status", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.HeaderAPIKey},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	validator := auth.SessionCredential{
		Source:   sess,
		Required: cfg.RequireCredential,
	}
	s := &Server{
		cfg:       cfg,
		session:   sess,
		fetcher:   fetcher,
		validator: validator,
		router:    r,
		logger:    logger,
		now:       time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer builds a listener-ready server for cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
