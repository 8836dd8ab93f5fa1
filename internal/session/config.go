package session

import "time"

// Config holds the two retry schedules. Disconnects are transient and retry
// sooner than outright failures.
type Config struct {
	DisconnectBackoff BackoffConfig
	FailureBackoff    BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		DisconnectBackoff: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Minute,
		},
		FailureBackoff: BackoffConfig{
			InitialDelay: 10 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Minute,
		},
	}
}

// WithDefaults fills unset delays from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.DisconnectBackoff = c.DisconnectBackoff.withDefaults(def.DisconnectBackoff)
	c.FailureBackoff = c.FailureBackoff.withDefaults(def.FailureBackoff)
	return c
}

func (b BackoffConfig) withDefaults(def BackoffConfig) BackoffConfig {
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	return b
}
