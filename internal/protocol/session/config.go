package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// ArbiterConfig bounds retransmission. Counts are in service ticks.
type ArbiterConfig struct {
	// EchoWaitTicks is how long a transmitted frame waits for its echo.
	EchoWaitTicks int
	// MaxAttempts is the transmission count after which a channel that never
	// echoed anything is declared broken.
	MaxAttempts int
	// DropAfter discards an entry once a working channel has retried it this
	// many times. Zero retries forever.
	DropAfter int
	// MaxPending bounds the queue. Zero means unbounded.
	MaxPending int
}

// Config defines bus timing and reliability defaults.
type Config struct {
	Tick        time.Duration
	ReadTimeout time.Duration
	Arbiter     ArbiterConfig
	Reopen      BackoffConfig
}

// DefaultConfig returns the bus defaults: 50ms ticks and a 500ms echo window.
func DefaultConfig() Config {
	return Config{
		Tick:        50 * time.Millisecond,
		ReadTimeout: 200 * time.Millisecond,
		Arbiter:     DefaultArbiterConfig(),
		Reopen: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		EchoWaitTicks: 10,
		MaxAttempts:   3,
		DropAfter:     10,
		MaxPending:    64,
	}
}

func (c ArbiterConfig) withDefaults() ArbiterConfig {
	def := DefaultArbiterConfig()
	if c.EchoWaitTicks <= 0 {
		c.EchoWaitTicks = def.EchoWaitTicks
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DropAfter < 0 {
		c.DropAfter = 0
	}
	if c.MaxPending < 0 {
		c.MaxPending = 0
	}
	return c
}
