package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrQueueFull = errors.New("session: transmit queue full")

// Tag groups queued frames so a state change can withdraw them together.
type Tag int

const (
	TagNone Tag = iota
	TagMenu
	TagCDC
	TagTime
	TagDate
	TagVideo
	// TagStatus marks changer play-state replies, which a stop makes obsolete.
	TagStatus
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagMenu:
		return "menu"
	case TagCDC:
		return "cdc"
	case TagTime:
		return "time"
	case TagDate:
		return "date"
	case TagVideo:
		return "video"
	case TagStatus:
		return "status"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Options controls how a frame is queued.
type Options struct {
	Tag Tag
	// Sync holds back every later entry until this one is echoed, and is
	// itself held back until every earlier entry is echoed.
	Sync bool
	// Prepend queues ahead of everything already pending.
	Prepend bool
}

// Transmitter writes one frame to the bus. An error counts as a lost
// transmission; the entry is retried after the echo window.
type Transmitter interface {
	Transmit(f frame.Frame) error
}

// IdleSensor reports whether no other node is currently transmitting.
type IdleSensor interface {
	BusIdle() bool
}

// Handle addresses one queued entry. A handle goes stale once its entry is
// removed; the zero Handle never refers to an entry.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) IsZero() bool {
	return h.gen == 0
}

// PendingFrame is a queued transmission awaiting its echo.
type PendingFrame struct {
	Frame     frame.Frame
	Tag       Tag
	Sync      bool
	Attempts  int
	Countdown int
}

type slot struct {
	gen   uint32
	live  bool
	entry PendingFrame
}

// Arbiter owns the transmit queue of one bus connection.
type Arbiter struct {
	cfg       ArbiterConfig
	tx        Transmitter
	sensor    IdleSensor
	slots     []slot
	free      []uint32
	order     []Handle
	succeeded bool
}

// NewArbiter returns an empty queue. sensor may be nil.
func NewArbiter(cfg ArbiterConfig, tx Transmitter, sensor IdleSensor) *Arbiter {
	return &Arbiter{
		cfg:    cfg.withDefaults(),
		tx:     tx,
		sensor: sensor,
	}
}

// Enqueue copies data, seals its checksum and queues it for the next tick.
func (a *Arbiter) Enqueue(data []byte, opts Options) (Handle, error) {
	if len(data) < frame.MinLen {
		return Handle{}, fmt.Errorf("%w: len=%d", frame.ErrShort, len(data))
	}
	if a.cfg.MaxPending > 0 && len(a.order) >= a.cfg.MaxPending {
		log.Warn().Msgf("session.Arbiter.Enqueue queue full pending=%d tag=%s", len(a.order), opts.Tag)
		return Handle{}, ErrQueueFull
	}

	f := frame.Frame(data).Clone()
	frame.Seal(f)
	h := a.alloc(PendingFrame{
		Frame:     f,
		Tag:       opts.Tag,
		Sync:      opts.Sync,
		Countdown: 1,
	})
	if opts.Prepend {
		a.order = append([]Handle{h}, a.order...)
	} else {
		a.order = append(a.order, h)
	}
	log.Debug().Msgf("session.Arbiter.Enqueue frame=%s tag=%s sync=%t prepend=%t pending=%d",
		f, opts.Tag, opts.Sync, opts.Prepend, len(a.order))
	return h, nil
}

// ServiceTick runs once per tick. busyWaiting means frames are pending but
// the bus was not idle. giveUp means the channel never echoed anything and
// must be reopened; the tick is abandoned.
func (a *Arbiter) ServiceTick(idleHint bool) (busyWaiting, giveUp bool) {
	for _, h := range a.order {
		if e := a.get(h); e.Countdown > 0 {
			e.Countdown--
		}
	}
	if len(a.order) == 0 {
		return false, false
	}
	if !idleHint || (a.sensor != nil && !a.sensor.BusIdle()) {
		log.Trace().Msgf("session.Arbiter.ServiceTick bus busy pending=%d", len(a.order))
		return true, false
	}

	var expired []Handle
	for i, h := range a.order {
		e := a.get(h)
		if e.Sync && i > 0 {
			break
		}
		if e.Countdown == 0 {
			if e.Attempts >= a.cfg.MaxAttempts && !a.succeeded {
				log.Warn().Msgf("session.Arbiter.ServiceTick no echo frame=%s attempts=%d", e.Frame, e.Attempts)
				return false, true
			}
			if a.succeeded && a.cfg.DropAfter > 0 && e.Attempts >= a.cfg.DropAfter {
				expired = append(expired, h)
				continue
			}
			if err := a.tx.Transmit(e.Frame); err != nil {
				log.Warn().Err(err).Msgf("session.Arbiter.ServiceTick transmit frame=%s", e.Frame)
			}
			e.Attempts++
			e.Countdown = a.cfg.EchoWaitTicks
		}
		if e.Sync {
			break
		}
	}
	for _, h := range expired {
		if e := a.get(h); e != nil {
			log.Warn().Msgf("session.Arbiter.ServiceTick dropped frame=%s attempts=%d tag=%s", e.Frame, e.Attempts, e.Tag)
		}
		a.remove(h)
	}
	return false, false
}

// OnEchoObserved retires the first queued entry whose bytes equal f.
func (a *Arbiter) OnEchoObserved(f []byte) bool {
	for _, h := range a.order {
		e := a.get(h)
		if !e.Frame.Equal(f) {
			continue
		}
		log.Debug().Msgf("session.Arbiter.OnEchoObserved frame=%s attempts=%d", e.Frame, e.Attempts)
		a.remove(h)
		a.succeeded = true
		return true
	}
	return false
}

// CancelByTag removes every entry carrying tag and returns how many were
// removed. Untagged entries cannot be cancelled this way.
func (a *Arbiter) CancelByTag(tag Tag) int {
	if tag == TagNone {
		return 0
	}
	var doomed []Handle
	for _, h := range a.order {
		if a.get(h).Tag == tag {
			doomed = append(doomed, h)
		}
	}
	for _, h := range doomed {
		a.remove(h)
	}
	if len(doomed) > 0 {
		log.Debug().Msgf("session.Arbiter.CancelByTag tag=%s removed=%d", tag, len(doomed))
	}
	return len(doomed)
}

// Cancel removes a single entry. It reports false for a stale handle.
func (a *Arbiter) Cancel(h Handle) bool {
	if a.get(h) == nil {
		return false
	}
	a.remove(h)
	return true
}

// ResetChannel starts over on a freshly opened channel: pending entries are
// kept, their attempts cleared, and the channel must echo again before the
// give-up bound is relaxed.
func (a *Arbiter) ResetChannel() {
	for _, h := range a.order {
		e := a.get(h)
		e.Attempts = 0
		e.Countdown = 1
	}
	a.succeeded = false
}

// Succeeded reports whether any echo was observed since the last reset.
func (a *Arbiter) Succeeded() bool {
	return a.succeeded
}

func (a *Arbiter) Len() int {
	return len(a.order)
}

// Pending returns a copy of the entry behind h.
func (a *Arbiter) Pending(h Handle) (PendingFrame, bool) {
	e := a.get(h)
	if e == nil {
		return PendingFrame{}, false
	}
	out := *e
	out.Frame = e.Frame.Clone()
	return out, true
}

// Snapshot copies the queue in transmit order.
func (a *Arbiter) Snapshot() []PendingFrame {
	out := make([]PendingFrame, 0, len(a.order))
	for _, h := range a.order {
		e := *a.get(h)
		e.Frame = e.Frame.Clone()
		out = append(out, e)
	}
	return out
}

func (a *Arbiter) alloc(e PendingFrame) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.entry = e
	return Handle{index: idx, gen: s.gen}
}

func (a *Arbiter) get(h Handle) *PendingFrame {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil
	}
	return &s.entry
}

func (a *Arbiter) remove(h Handle) {
	if a.get(h) == nil {
		return
	}
	s := &a.slots[h.index]
	s.live = false
	s.entry = PendingFrame{}
	a.free = append(a.free, h.index)
	for i, o := range a.order {
		if o == h {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
