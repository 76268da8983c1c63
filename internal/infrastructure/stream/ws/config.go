package ws

import "time"

type Config struct {
	BaseURL string

	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       60 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 5,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if out.ReconnectMaxDelay < out.ReconnectBaseDelay {
		out.ReconnectMaxDelay = out.ReconnectBaseDelay
	}
	if out.ReconnectMaxAttempts <= 0 {
		out.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	return out
}

// backoffDelay returns base * 2^attempts capped at the configured
// maximum. attempts counts already-scheduled reconnects, so the first
// retry waits the base delay.
func (c Config) backoffDelay(attempts int) time.Duration {
	delay := c.ReconnectBaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= c.ReconnectMaxDelay {
			return c.ReconnectMaxDelay
		}
	}
	if delay > c.ReconnectMaxDelay {
		return c.ReconnectMaxDelay
	}
	return delay
}
