package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/wabridge/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
listen_addr = "0.0.0.0:8080"
bridge_url = "ws://sidecar:3100/bridge"
sidecar_command = ["node", " sidecar.js ", ""]
require_credential = false
fetch_timeout = "5s"
failure_backoff = "20s"
backoff_max = "1m"
backoff_jitter = true
conversation_strategies = ["store", "eval"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" || cfg.BridgeURL != "ws://sidecar:3100/bridge" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.SidecarCommand, []string{"node", "sidecar.js"}) {
		t.Fatalf("unexpected sidecar command: %q", cfg.SidecarCommand)
	}
	if cfg.RequireCredential {
		t.Fatalf("expected credential requirement disabled")
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Fatalf("unexpected fetch timeout: %v", cfg.FetchTimeout)
	}
	if cfg.Session.FailureBackoff.InitialDelay != 20*time.Second || cfg.Session.FailureBackoff.MaxDelay != time.Minute {
		t.Fatalf("unexpected failure backoff: %+v", cfg.Session.FailureBackoff)
	}
	if !cfg.Session.DisconnectBackoff.Jitter || !cfg.Session.FailureBackoff.Jitter {
		t.Fatalf("expected jitter on both schedules: %+v", cfg.Session)
	}
	// undefined keys keep defaults
	if cfg.Session.DisconnectBackoff.InitialDelay != 5*time.Second {
		t.Fatalf("unexpected disconnect backoff: %+v", cfg.Session.DisconnectBackoff)
	}
	if cfg.DefaultMessageLimit != 50 {
		t.Fatalf("unexpected message limit: %d", cfg.DefaultMessageLimit)
	}
	if !reflect.DeepEqual(cfg.ConversationStrategies, []string{"store", "eval"}) {
		t.Fatalf("unexpected conversation strategies: %v", cfg.ConversationStrategies)
	}
	if !reflect.DeepEqual(cfg.MessageStrategies, []string{"primary", "store", "eval"}) {
		t.Fatalf("unexpected message strategies: %v", cfg.MessageStrategies)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: `listen_port = 3000`},
		{name: "bad duration", body: `fetch_timeout = "soon"`},
		{name: "zero timeout", body: `fetch_timeout = "0s"`},
		{name: "http bridge", body: `bridge_url = "http://127.0.0.1:3100"`},
		{name: "unknown strategy", body: `message_strategies = ["primary", "telepathy"]`},
		{name: "empty chain", body: `conversation_strategies = []`},
		{name: "low multiplier", body: `backoff_multiplier = 0.5`},
		{name: "cap below initial", body: `backoff_max = "1s"`},
		{name: "disconnect not shorter", body: "disconnect_backoff = \"30s\"\nfailure_backoff = \"10s\""},
		{name: "disconnect equal", body: "disconnect_backoff = \"10s\"\nfailure_backoff = \"10s\""},
		{name: "empty listen", body: `listen_addr = " "`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTemplateLoadsAsDefault(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	want := Default()
	want.SidecarCommand = []string{}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("template did not load as defaults\n got: %+v\nwant: %+v", cfg, want)
	}
}
