// Package changer emulates a CD changer so the radio enables its line input.
package changer

import (
	"fmt"
	"time"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/danmuck/ibusctl/internal/reactor"
	"github.com/rs/zerolog/log"
)

type State int

const (
	Idle State = iota
	Announced
	Playing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announced:
		return "announced"
	case Playing:
		return "playing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Queue is the transmit side the changer replies through.
type Queue interface {
	Enqueue(data []byte, opts session.Options) (session.Handle, error)
	CancelByTag(tag session.Tag) int
}

// Scheduler runs timer callbacks on the same goroutine as the handlers.
type Scheduler interface {
	AddTimer(interval time.Duration, fn reactor.TimerFunc) reactor.TimerID
	RemoveTimer(id reactor.TimerID)
}

type Config struct {
	// Announce enables the unsolicited presence broadcast.
	Announce bool
	// InfoInterval repeats the last status reply. Zero disables repeats.
	InfoInterval time.Duration
	// MaxRepeats bounds repeat firings between two polls.
	MaxRepeats int
}

func DefaultConfig() Config {
	return Config{
		Announce:     true,
		InfoInterval: 0,
		MaxRepeats:   5,
	}
}

// Changer is the CD changer state machine. All methods run on the reactor.
type Changer struct {
	cfg   Config
	queue Queue
	sched Scheduler

	state State

	repeatID     reactor.TimerID
	repeatGen    uint64
	repeatActive bool
	repeats      int

	controllerSeen bool
	announceSent   bool
}

func New(cfg Config, q Queue, sched Scheduler) *Changer {
	if cfg.MaxRepeats <= 0 {
		cfg.MaxRepeats = DefaultConfig().MaxRepeats
	}
	return &Changer{cfg: cfg, queue: q, sched: sched}
}

func (c *Changer) State() State {
	return c.state
}

func (c *Changer) Playing() bool {
	return c.state == Playing
}

// Repeating reports whether a status repeat timer is scheduled.
func (c *Changer) Repeating() bool {
	return c.repeatActive
}

// Reset returns to Idle, as a changer that just powered up. A reopened
// channel keeps the changer state.
func (c *Changer) Reset() {
	c.cancelRepeat()
	c.queue.CancelByTag(session.TagCDC)
	c.queue.CancelByTag(session.TagStatus)
	c.state = Idle
	c.repeats = 0
	c.controllerSeen = false
	c.announceSent = false
}

// ObserveFrame notes traffic from the radio, which gates the announce.
func (c *Changer) ObserveFrame(f frame.Frame) {
	if f.Source() == AddrRadio {
		c.controllerSeen = true
	}
}

func (c *Changer) HandlePoll(frame.Frame) {
	c.reply(ReplyPresent, session.TagCDC)
	if c.state == Idle {
		c.setState(Announced)
	}
	c.repeats = 0
	c.announceSent = false
}

func (c *Changer) HandleInfo(frame.Frame) {
	reply := ReplyNotPlaying
	if c.state == Playing {
		reply = ReplyPlaying
	}
	c.status(reply)
	if c.cfg.InfoInterval > 0 {
		c.scheduleRepeat(reply)
	}
}

func (c *Changer) HandleStart(frame.Frame) {
	c.status(ReplyPlaying)
	c.setState(Playing)
}

// HandleDiskChange ignores requests whose check byte does not match.
func (c *Changer) HandleDiskChange(f frame.Frame) {
	if !ValidDiskChange(f) {
		log.Debug().Msgf("changer.Changer.HandleDiskChange invalid frame=%s", f)
		return
	}
	c.HandleStart(f)
}

// HandleStop withdraws queued status replies; presence replies stay queued.
func (c *Changer) HandleStop(frame.Frame) {
	if n := c.queue.CancelByTag(session.TagStatus); n > 0 {
		log.Debug().Msgf("changer.Changer.HandleStop cancelled=%d", n)
	}
	c.status(ReplyNotPlaying)
	c.cancelRepeat()
	c.setState(Stopped)
}

func (c *Changer) HandlePause(frame.Frame) {
	c.status(ReplyPaused)
	c.setState(Stopped)
}

func (c *Changer) HandleImmobilizer(frame.Frame) {
	if c.repeatActive {
		log.Info().Msg("changer.Changer.HandleImmobilizer repeat cancelled")
	}
	c.cancelRepeat()
}

// EnterCDCMode records that the radio switched its display to the changer.
func (c *Changer) EnterCDCMode(frame.Frame) {
	c.setState(Playing)
}

// AnnounceTick broadcasts presence once per wake cycle, after the radio has
// been heard and before any poll. It reports whether an announce was queued.
func (c *Changer) AnnounceTick() bool {
	if !c.cfg.Announce || c.state != Idle || !c.controllerSeen || c.announceSent {
		return false
	}
	c.reply(ReplyAnnounce, session.TagCDC)
	c.controllerSeen = false
	c.announceSent = true
	log.Info().Msg("changer.Changer.AnnounceTick presence broadcast")
	return true
}

func (c *Changer) reply(f frame.Frame, tag session.Tag) {
	if _, err := c.queue.Enqueue(f, session.Options{Tag: tag}); err != nil {
		log.Warn().Err(err).Msgf("changer.Changer.reply frame=%s tag=%s", f, tag)
	}
}

func (c *Changer) status(f frame.Frame) {
	c.reply(f, session.TagStatus)
}

func (c *Changer) setState(s State) {
	if c.state == s {
		return
	}
	log.Debug().Msgf("changer.Changer.setState from=%s to=%s", c.state, s)
	c.state = s
}

func (c *Changer) scheduleRepeat(reply frame.Frame) {
	c.cancelRepeat()
	c.repeatGen++
	gen := c.repeatGen
	reply = reply.Clone()
	c.repeatActive = true
	c.repeatID = c.sched.AddTimer(c.cfg.InfoInterval, func() bool {
		if gen != c.repeatGen || !c.repeatActive {
			return false
		}
		if c.repeats >= c.cfg.MaxRepeats {
			log.Debug().Msgf("changer.Changer.repeat exhausted repeats=%d", c.repeats)
			c.repeatActive = false
			return false
		}
		c.repeats++
		c.status(reply)
		return true
	})
}

func (c *Changer) cancelRepeat() {
	if !c.repeatActive {
		return
	}
	c.sched.RemoveTimer(c.repeatID)
	c.repeatActive = false
	c.repeatGen++
}
