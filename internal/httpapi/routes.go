package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/wabridge/internal/auth"
	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 320

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": s.timestamp(),
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		snap := s.session.Snapshot()
		var lastErr any
		if snap.LastError != "" {
			lastErr = snap.LastError
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        snap.Status,
			"error":         lastErr,
			"timestamp":     s.timestamp(),
			"hasCredential": snap.HasCredential,
			"since":         snap.Since.UTC().Format(time.RFC3339),
			"retryAttempt":  snap.RetryAttempt,
		})
	})

	s.router.GET("/qr", s.handleQR)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/api/credential", s.handleCredential)

	api := s.router.Group("/api", s.requireCredential(), s.requireReady())
	api.GET("/chats", s.handleListChats)
	api.GET("/chats/recent", s.handleRecentChat)
	api.GET("/chats/:id/messages", s.handleListMessages)
	api.POST("/chats/:id/messages", s.handleSendMessage)
}

func (s *Server) requireCredential() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.validator.Validate(auth.TokenFromRequest(c.Request)); err != nil {
			s.logger.Warn().
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("credential rejected")
			fail(c, http.StatusUnauthorized, "Invalid API key")
			return
		}
		c.Next()
	}
}

func (s *Server) requireReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := s.session.Handle()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "session not ready",
				"status":  s.session.Snapshot().Status,
			})
			return
		}
		c.Set(handleKey, h)
		c.Next()
	}
}

const handleKey = "capability"

func capability(c *gin.Context) messenger.Capability {
	v, _ := c.Get(handleKey)
	h, _ := v.(messenger.Capability)
	return h
}

func (s *Server) handleQR(c *gin.Context) {
	payload, ok := s.session.PairingArtifact()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "no pairing code available",
		})
		return
	}
	if wantsPNG(c) {
		png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("qr render failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "failed to render pairing code",
			})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "qr": payload})
}

func wantsPNG(c *gin.Context) bool {
	if strings.EqualFold(c.Query("format"), "png") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "image/png")
}

func (s *Server) handleCredential(c *gin.Context) {
	if !isLoopback(c.Request.RemoteAddr) {
		fail(c, http.StatusForbidden, "credential is only available from loopback")
		return
	}
	credential, ok := s.session.Credential()
	if !ok {
		fail(c, http.StatusNotFound, "credential not issued yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "apiKey": credential})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleListChats(c *gin.Context) {
	res, ok := s.fetch(c, fetch.Conversations())
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"chats":       res.Records,
		"source":      res.Strategy,
		"placeholder": res.Placeholder,
	})
}

func (s *Server) handleRecentChat(c *gin.Context) {
	res, ok := s.fetch(c, fetch.Conversations())
	if !ok {
		return
	}
	chat, _ := fetch.MostRecent(res.Records)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"chat":        chat,
		"source":      res.Strategy,
		"placeholder": res.Placeholder,
	})
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	chatID := c.Param("id")
	res, ok := s.fetch(c, fetch.Messages(chatID, limit))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"chatId":      chatID,
		"messages":    res.Records,
		"source":      res.Strategy,
		"placeholder": res.Placeholder,
	})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		fail(c, http.StatusBadRequest, "message is required")
		return
	}
	chatID := strings.TrimSpace(c.Param("id"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.fetcher.Budget())
	defer cancel()
	sent, err := capability(c).SendMessage(ctx, chatID, req.Message)
	switch {
	case errors.Is(err, messenger.ErrConversationNotFound):
		fail(c, http.StatusNotFound, "chat not found")
		return
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "request timed out")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("chat", chatID).Msg("send message failed")
		fail(c, http.StatusBadGateway, "failed to send message")
		return
	}

	record := fetch.Record{Kind: fetch.KindMessages, Title: req.Message, Flag: true}
	if records := fetch.NormalizeMessages([]messenger.Message{sent}); len(records) == 1 {
		record = records[0]
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": record})
}

// fetch runs the chain and writes the error response when it fails.
func (s *Server) fetch(c *gin.Context, q fetch.Query) (fetch.Result, bool) {
	res, err := s.fetcher.Fetch(c.Request.Context(), capability(c), q)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, fetch.ErrInvalidQuery):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, fetch.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, session.ErrNotReady), errors.Is(err, fetch.ErrNilHandle):
		fail(c, http.StatusServiceUnavailable, "session not ready")
	default:
		// caller went away; nobody reads this response
		fail(c, http.StatusServiceUnavailable, err.Error())
	}
	return fetch.Result{}, false
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
