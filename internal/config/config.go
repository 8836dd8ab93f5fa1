// Package config loads the bridge service configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/session"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved service configuration.
type Config struct {
	ListenAddr             string
	CorsOrigins            []string
	BridgeURL              string
	SidecarCommand         []string
	RequireCredential      bool
	FetchTimeout           time.Duration
	DefaultMessageLimit    int
	ConversationStrategies []string
	MessageStrategies      []string
	Session                session.Config
}

// fileConfig mirrors the TOML layout. Durations are strings.
type fileConfig struct {
	ListenAddr             string   `toml:"listen_addr"`
	CorsOrigins            []string `toml:"cors_origins"`
	BridgeURL              string   `toml:"bridge_url"`
	SidecarCommand         []string `toml:"sidecar_command"`
	RequireCredential      bool     `toml:"require_credential"`
	FetchTimeout           string   `toml:"fetch_timeout"`
	DisconnectBackoff      string   `toml:"disconnect_backoff"`
	FailureBackoff         string   `toml:"failure_backoff"`
	BackoffMultiplier      float64  `toml:"backoff_multiplier"`
	BackoffMax             string   `toml:"backoff_max"`
	BackoffJitter          bool     `toml:"backoff_jitter"`
	ConversationStrategies []string `toml:"conversation_strategies"`
	MessageStrategies      []string `toml:"message_strategies"`
	DefaultMessageLimit    int      `toml:"default_message_limit"`
}

func Default() Config {
	return Config{
		ListenAddr:             "127.0.0.1:3000",
		CorsOrigins:            []string{"http://localhost:3000"},
		BridgeURL:              "ws://127.0.0.1:3100/bridge",
		RequireCredential:      true,
		FetchTimeout:           fetch.DefaultBudget,
		DefaultMessageLimit:    fetch.DefaultMessageLimit,
		ConversationStrategies: append([]string(nil), fetch.DefaultConversationChain...),
		MessageStrategies:      append([]string(nil), fetch.DefaultMessageChain...),
		Session:                session.DefaultConfig(),
	}
}

// Load reads path and overlays every defined key onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("bridge_url") {
		cfg.BridgeURL = strings.TrimSpace(raw.BridgeURL)
	}
	if meta.IsDefined("sidecar_command") {
		cfg.SidecarCommand = normalizeList(raw.SidecarCommand)
	}
	if meta.IsDefined("require_credential") {
		cfg.RequireCredential = raw.RequireCredential
	}
	if meta.IsDefined("fetch_timeout") {
		if cfg.FetchTimeout, err = parseDuration("fetch_timeout", raw.FetchTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("disconnect_backoff") {
		if cfg.Session.DisconnectBackoff.InitialDelay, err = parseDuration("disconnect_backoff", raw.DisconnectBackoff); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("failure_backoff") {
		if cfg.Session.FailureBackoff.InitialDelay, err = parseDuration("failure_backoff", raw.FailureBackoff); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Session.DisconnectBackoff.Multiplier = raw.BackoffMultiplier
		cfg.Session.FailureBackoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_max") {
		max, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.DisconnectBackoff.MaxDelay = max
		cfg.Session.FailureBackoff.MaxDelay = max
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Session.DisconnectBackoff.Jitter = raw.BackoffJitter
		cfg.Session.FailureBackoff.Jitter = raw.BackoffJitter
	}
	if meta.IsDefined("conversation_strategies") {
		cfg.ConversationStrategies = normalizeList(raw.ConversationStrategies)
	}
	if meta.IsDefined("message_strategies") {
		cfg.MessageStrategies = normalizeList(raw.MessageStrategies)
	}
	if meta.IsDefined("default_message_limit") {
		cfg.DefaultMessageLimit = raw.DefaultMessageLimit
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a resolved configuration.
func Validate(cfg Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if cfg.BridgeURL == "" {
		return fmt.Errorf("%w: bridge_url is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(cfg.BridgeURL, "ws://") && !strings.HasPrefix(cfg.BridgeURL, "wss://") {
		return fmt.Errorf("%w: bridge_url must be a ws:// or wss:// url", ErrInvalidConfig)
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.DefaultMessageLimit <= 0 {
		return fmt.Errorf("%w: default_message_limit must be positive", ErrInvalidConfig)
	}
	if err := validateBackoff("disconnect_backoff", cfg.Session.DisconnectBackoff); err != nil {
		return err
	}
	if err := validateBackoff("failure_backoff", cfg.Session.FailureBackoff); err != nil {
		return err
	}
	if cfg.Session.DisconnectBackoff.InitialDelay >= cfg.Session.FailureBackoff.InitialDelay {
		return fmt.Errorf("%w: disconnect_backoff must be shorter than failure_backoff", ErrInvalidConfig)
	}
	if len(cfg.ConversationStrategies) == 0 {
		return fmt.Errorf("%w: conversation_strategies is empty", ErrInvalidConfig)
	}
	if len(cfg.MessageStrategies) == 0 {
		return fmt.Errorf("%w: message_strategies is empty", ErrInvalidConfig)
	}
	reg := fetch.DefaultRegistry()
	if _, err := reg.Chain(cfg.ConversationStrategies); err != nil {
		return fmt.Errorf("%w: conversation_strategies: %v", ErrInvalidConfig, err)
	}
	if _, err := reg.Chain(cfg.MessageStrategies); err != nil {
		return fmt.Errorf("%w: message_strategies: %v", ErrInvalidConfig, err)
	}
	return nil
}

func validateBackoff(key string, b session.BackoffConfig) error {
	if b.InitialDelay <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
	}
	if b.Multiplier < 1.0 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1", ErrInvalidConfig)
	}
	if b.MaxDelay < b.InitialDelay {
		return fmt.Errorf("%w: backoff_max below %s", ErrInvalidConfig, key)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
