package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders cfg as a TOML file that Load accepts.
func Template(cfg Config) (string, error) {
	data, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	body, err := Template(Default())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(body), 0o600)
}

func toFile(cfg Config) fileConfig {
	sidecar := cfg.SidecarCommand
	if sidecar == nil {
		sidecar = []string{}
	}
	return fileConfig{
		ListenAddr:             cfg.ListenAddr,
		CorsOrigins:            cfg.CorsOrigins,
		BridgeURL:              cfg.BridgeURL,
		SidecarCommand:         sidecar,
		RequireCredential:      cfg.RequireCredential,
		FetchTimeout:           cfg.FetchTimeout.String(),
		DisconnectBackoff:      cfg.Session.DisconnectBackoff.InitialDelay.String(),
		FailureBackoff:         cfg.Session.FailureBackoff.InitialDelay.String(),
		BackoffMultiplier:      cfg.Session.FailureBackoff.Multiplier,
		BackoffMax:             cfg.Session.FailureBackoff.MaxDelay.String(),
		BackoffJitter:          cfg.Session.FailureBackoff.Jitter,
		ConversationStrategies: cfg.ConversationStrategies,
		MessageStrategies:      cfg.MessageStrategies,
		DefaultMessageLimit:    cfg.DefaultMessageLimit,
	}
}
