package client

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// ReconnectConfig tunes the supervisor's backoff between reconnect
// attempts.
type ReconnectConfig struct {
	// BaseDelay is the delay after the first failed attempt.
	// Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the pre-jitter delay. Default: 30s.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt. Default: 2.0.
	Multiplier float64

	// JitterFactor randomizes each delay by ±factor, so a fleet of
	// clients does not reconnect in lockstep. Default: 0.1.
	JitterFactor float64

	// MaxAttempts is the number of attempts before the supervisor gives
	// up and goes Disconnected. Zero means unlimited. Default: 10.
	MaxAttempts int
}

// DefaultReconnectConfig returns a ReconnectConfig with production
// defaults.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		MaxAttempts:  10,
	}
}

// Clone returns a copy of the config.
func (c *ReconnectConfig) Clone() *ReconnectConfig {
	clone := *c
	return &clone
}

// normalized fills zero fields from the defaults. MaxAttempts is kept as
// given: zero is meaningful (unlimited).
func (c *ReconnectConfig) normalized() *ReconnectConfig {
	out := c.Clone()
	def := DefaultReconnectConfig()
	if out.BaseDelay == 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxDelay == 0 {
		out.MaxDelay = def.MaxDelay
	}
	if out.Multiplier == 0 {
		out.Multiplier = def.Multiplier
	}
	if out.JitterFactor == 0 {
		out.JitterFactor = def.JitterFactor
	}
	return out
}

// WithBaseDelay sets the initial backoff delay.
func (c *ReconnectConfig) WithBaseDelay(d time.Duration) *ReconnectConfig {
	c.BaseDelay = d
	return c
}

// WithMaxDelay sets the backoff ceiling.
func (c *ReconnectConfig) WithMaxDelay(d time.Duration) *ReconnectConfig {
	c.MaxDelay = d
	return c
}

// WithMultiplier sets the backoff growth factor.
func (c *ReconnectConfig) WithMultiplier(m float64) *ReconnectConfig {
	c.Multiplier = m
	return c
}

// WithJitterFactor sets the jitter factor.
func (c *ReconnectConfig) WithJitterFactor(f float64) *ReconnectConfig {
	c.JitterFactor = f
	return c
}

// WithMaxAttempts sets the attempt limit.
func (c *ReconnectConfig) WithMaxAttempts(n int) *ReconnectConfig {
	c.MaxAttempts = n
	return c
}

// Config configures a client.
type Config struct {
	// Reconnect tunes the supervisor. Nil uses the defaults.
	Reconnect *ReconnectConfig

	// MaxPendingInput bounds the queue of events captured while not
	// connected. Default: 256.
	MaxPendingInput int

	// MaxPatchBuffer bounds how many early-arriving future frames the
	// renderer holds while waiting for the gap to fill. Default: 32.
	MaxPatchBuffer int

	// HandshakeTimeout bounds the dial plus hello exchange. Default: 10s.
	HandshakeTimeout time.Duration

	// ReadTimeout is the per-read deadline. The server heartbeats well
	// inside this window, so expiry means the connection is dead.
	// Default: 60s.
	ReadTimeout time.Duration

	// WriteTimeout is the per-write deadline. Default: 10s.
	WriteTimeout time.Duration

	// GracePeriod mirrors the server's detached-session window: once
	// the client has been Disconnected this long it terminates instead
	// of waiting for a Retry that could no longer succeed. Default: 2m.
	GracePeriod time.Duration

	// Dialer is the WebSocket dialer. Nil uses a dialer with
	// HandshakeTimeout applied.
	Dialer *websocket.Dialer

	// Logger for client events. Defaults to slog.Default().
	Logger *slog.Logger

	// OnStatus is called on every supervisor state transition, from the
	// supervisor goroutine. Keep it fast and do not call Close from it:
	// Close waits for the supervisor to exit.
	OnStatus func(StatusChange)

	// OnUpdate is called with the new version after the renderer's tree
	// changes, from the read goroutine.
	OnUpdate func(version uint64)
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Reconnect:        DefaultReconnectConfig(),
		MaxPendingInput:  256,
		MaxPatchBuffer:   32,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		GracePeriod:      2 * time.Minute,
	}
}

// Clone returns a copy of the config. The reconnect config is cloned
// too; the dialer, logger, and callbacks are shared.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Reconnect != nil {
		clone.Reconnect = c.Reconnect.Clone()
	}
	return &clone
}

// normalized fills zero fields from the defaults.
func (c *Config) normalized() *Config {
	out := c.Clone()
	def := DefaultConfig()
	if out.Reconnect == nil {
		out.Reconnect = def.Reconnect
	} else {
		out.Reconnect = out.Reconnect.normalized()
	}
	if out.MaxPendingInput == 0 {
		out.MaxPendingInput = def.MaxPendingInput
	}
	if out.MaxPatchBuffer == 0 {
		out.MaxPatchBuffer = def.MaxPatchBuffer
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = def.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.GracePeriod == 0 {
		out.GracePeriod = def.GracePeriod
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// WithReconnect sets the reconnect config.
func (c *Config) WithReconnect(rc *ReconnectConfig) *Config {
	c.Reconnect = rc
	return c
}

// WithMaxPendingInput sets the pending input queue capacity.
func (c *Config) WithMaxPendingInput(n int) *Config {
	c.MaxPendingInput = n
	return c
}

// WithGracePeriod sets the disconnected grace period.
func (c *Config) WithGracePeriod(d time.Duration) *Config {
	c.GracePeriod = d
	return c
}

// WithLogger sets the logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithOnStatus sets the status callback.
func (c *Config) WithOnStatus(fn func(StatusChange)) *Config {
	c.OnStatus = fn
	return c
}

// WithOnUpdate sets the tree update callback.
func (c *Config) WithOnUpdate(fn func(version uint64)) *Config {
	c.OnUpdate = fn
	return c
}
