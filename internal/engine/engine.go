// Package engine wires the bus protocol components to the host for one bus
// connection. Every method runs on the reactor goroutine.
package engine

import (
	"errors"
	"io"
	"time"

	"github.com/danmuck/ibusctl/internal/annotate"
	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/host"
	"github.com/danmuck/ibusctl/internal/protocol/dispatch"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/danmuck/ibusctl/internal/reactor"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoPort        = errors.New("engine: bus port not attached")
	ErrChannelFailed = errors.New("engine: bus channel never echoed")
)

// Scheduler is the reactor surface the engine needs.
type Scheduler interface {
	AddTimer(interval time.Duration, fn reactor.TimerFunc) reactor.TimerID
	RemoveTimer(id reactor.TimerID)
	Pending() int
}

// Publisher receives every validated inbound frame and every transmission.
type Publisher interface {
	PublishRX(f frame.Frame)
	PublishTX(f frame.Frame)
}

// Deps are the host collaborators. Nil members fall back to no-ops.
type Deps struct {
	Keyboard  dispatch.KeyEmitter
	Sensor    session.IdleSensor
	Power     host.PowerController
	Clock     host.ClockSetter
	Publisher Publisher
	Now       func() time.Time
}

// Engine is the protocol engine of one bus.
type Engine struct {
	cfg   Config
	deps  Deps
	sched Scheduler

	receiver *frame.Receiver
	arbiter  *session.Arbiter
	table    *dispatch.Table
	changer  *changer.Changer
	video    *Video
	clock    *ClockSync

	port        io.Writer
	keysBlocked bool
	lastByte    time.Time
	poweredOff  bool
	lastStats   frame.ReceiverStats
	timers      []reactor.TimerID
	onFailure   func(error)
}

func New(cfg Config, deps Deps, sched Scheduler) (*Engine, error) {
	cfg = cfg.withDefaults()
	if deps.Keyboard == nil {
		deps.Keyboard = host.NopKeyboard{}
	}
	if deps.Sensor == nil {
		deps.Sensor = host.AlwaysIdle{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		sched:       sched,
		keysBlocked: true,
	}
	e.receiver = frame.NewReceiver(cfg.StaleAfter, e.onFrame)
	e.arbiter = session.NewArbiter(cfg.Session.Arbiter, e, deps.Sensor)
	e.changer = changer.New(cfg.Changer, e.arbiter, sched)
	e.video = NewVideo(e.arbiter, cfg.Camera, cfg.Bluetooth)
	e.clock = NewClockSync(e.arbiter, deps.Clock)

	table, err := dispatch.NewTable(e.entries(), dispatch.Sinks{
		Keys: deps.Keyboard,
		Gate: e,
		Echo: e.arbiter,
	})
	if err != nil {
		return nil, err
	}
	e.table = table
	return e, nil
}

func (e *Engine) Arbiter() *session.Arbiter { return e.arbiter }
func (e *Engine) Changer() *changer.Changer { return e.changer }
func (e *Engine) Video() *Video             { return e.video }
func (e *Engine) Clock() *ClockSync         { return e.clock }
func (e *Engine) Table() *dispatch.Table    { return e.table }

// OnFailure sets the callback run when the channel has to be reopened.
func (e *Engine) OnFailure(fn func(error)) {
	e.onFailure = fn
}

// Start registers the periodic timers and queues the startup frames.
func (e *Engine) Start() {
	e.lastByte = e.deps.Now()
	e.changer.Reset()
	e.timers = append(e.timers,
		e.sched.AddTimer(e.cfg.Session.Tick, e.serviceTick),
		e.sched.AddTimer(e.cfg.Housekeeping, e.housekeeping),
		e.sched.AddTimer(e.cfg.AnnounceInterval, e.announce),
	)
	e.video.SendSettings(e.cfg.IdleTimeout > 0)
	if e.cfg.ClockSync {
		e.clock.Request()
	}
	log.Info().Msgf("engine.Engine.Start tick=%s idle_timeout=%s entries=%d", e.cfg.Session.Tick, e.cfg.IdleTimeout, e.table.Len())
}

// Stop removes the periodic timers.
func (e *Engine) Stop() {
	for _, id := range e.timers {
		e.sched.RemoveTimer(id)
	}
	e.timers = nil
}

// Attach starts a fresh channel on w. The transmit queue and the changer
// state are kept.
func (e *Engine) Attach(w io.Writer) {
	e.port = w
	e.receiver.Reset()
	e.arbiter.ResetChannel()
}

// Detach stops transmitting until the next Attach.
func (e *Engine) Detach() {
	e.port = nil
}

func (e *Engine) Attached() bool {
	return e.port != nil
}

// HandleRead feeds bytes read from the bus.
func (e *Engine) HandleRead(data []byte, at time.Time) {
	if len(data) == 0 {
		return
	}
	e.lastByte = at
	e.receiver.Feed(data, at)
}

// Enqueue queues a frame for transmission.
func (e *Engine) Enqueue(data []byte, opts session.Options) (session.Handle, error) {
	return e.arbiter.Enqueue(data, opts)
}

// Transmit writes one frame; the arbiter calls it on service ticks.
func (e *Engine) Transmit(f frame.Frame) error {
	if e.port == nil {
		return ErrNoPort
	}
	if _, err := e.port.Write(f); err != nil {
		return err
	}
	log.Debug().Msgf("engine.Engine.Transmit %s", annotate.Line(f))
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishTX(f)
	}
	return nil
}

// KeysSuppressed gates keystrokes until the radio is in changer mode.
func (e *Engine) KeysSuppressed() bool {
	return e.keysBlocked
}

func (e *Engine) onFrame(f frame.Frame, recovered bool) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishRX(f)
	}
	e.changer.ObserveFrame(f)
	name := e.table.Dispatch(f, recovered)
	if name != "" {
		log.Debug().Msgf("engine.Engine.onFrame event=%s recovered=%t %s", name, recovered, annotate.Line(f))
	} else {
		log.Trace().Msgf("engine.Engine.onFrame recovered=%t %s", recovered, annotate.Line(f))
	}
}

func (e *Engine) serviceTick() bool {
	if e.port == nil {
		return true
	}
	e.receiver.Expire(e.deps.Now())
	idle := e.receiver.Idle() && e.sched.Pending() == 0
	_, giveUp := e.arbiter.ServiceTick(idle)
	if giveUp {
		log.Error().Msgf("engine.Engine.serviceTick channel failed pending=%d", e.arbiter.Len())
		e.fail(ErrChannelFailed)
	}
	return true
}

// Fail detaches and reports err to the failure callback.
func (e *Engine) Fail(err error) {
	e.fail(err)
}

func (e *Engine) fail(err error) {
	e.Detach()
	if e.onFailure != nil {
		e.onFailure(err)
	}
}

func (e *Engine) housekeeping() bool {
	now := e.deps.Now()
	if stats := e.receiver.Stats(); stats != e.lastStats {
		e.lastStats = stats
		log.Debug().Msgf("engine.Engine.housekeeping frames=%d recovered=%d resyncs=%d discarded=%d pending=%d",
			stats.Frames, stats.Recovered, stats.Resyncs, stats.Discarded, e.arbiter.Len())
	}
	if e.cfg.IdleTimeout <= 0 || e.poweredOff || now.Sub(e.lastByte) <= e.cfg.IdleTimeout {
		return true
	}
	e.poweredOff = true
	log.Warn().Msgf("engine.Engine.housekeeping idle timeout idle=%s", now.Sub(e.lastByte).Truncate(time.Second))
	if e.deps.Power == nil {
		return true
	}
	if err := e.deps.Power.PowerOff(); err != nil {
		log.Error().Err(err).Msg("engine.Engine.housekeeping power off")
	}
	return true
}

func (e *Engine) announce() bool {
	e.changer.AnnounceTick()
	return true
}
