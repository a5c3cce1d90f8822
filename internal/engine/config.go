package engine

import (
	"time"

	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
)

// Config holds the bus behaviour of one engine.
type Config struct {
	Session session.Config
	Changer changer.Config

	// StaleAfter is the receive inter-byte gap that abandons a partial frame.
	StaleAfter time.Duration
	// IdleTimeout powers the host off after this long without a bus byte.
	// Zero disables it.
	IdleTimeout      time.Duration
	Housekeeping     time.Duration
	AnnounceInterval time.Duration

	// Camera switches video to the reversing camera in reverse gear.
	Camera bool
	// Bluetooth leaves the phone button to a factory phone module.
	Bluetooth bool
	// HandleNextPrev maps the changer's next/prev requests to keys.
	HandleNextPrev bool
	// RotaryOpposite swaps the direction of the navigation knob.
	RotaryOpposite bool
	// ClockSync sets the host clock from the instrument cluster once.
	ClockSync bool
}

func DefaultConfig() Config {
	return Config{
		Session:          session.DefaultConfig(),
		Changer:          changer.DefaultConfig(),
		StaleAfter:       frame.DefaultStaleAfter,
		IdleTimeout:      4 * time.Minute,
		Housekeeping:     time.Second,
		AnnounceInterval: 30 * time.Second,
		Camera:           true,
		Bluetooth:        false,
		HandleNextPrev:   true,
		RotaryOpposite:   false,
		ClockSync:        true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Session.Tick <= 0 {
		c.Session.Tick = def.Session.Tick
	}
	if c.Session.Reopen.InitialDelay <= 0 {
		c.Session.Reopen = def.Session.Reopen
	}
	if c.Housekeeping <= 0 {
		c.Housekeeping = def.Housekeeping
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = def.AnnounceInterval
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	return c
}
