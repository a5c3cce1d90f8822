package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/ibusctl/internal/monitor"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/danmuck/ibusctl/internal/reactor"
	"github.com/danmuck/ibusctl/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrInjectTimeout = errors.New("engine: inject not handled")

const injectTimeout = 2 * time.Second

// Opener opens the bus channel. It is called again after every failure.
type Opener func() (transport.Port, error)

type ServiceConfig struct {
	Engine Config
	// Monitor is served when MonitorEnabled is set.
	Monitor        monitor.Config
	MonitorEnabled bool
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Engine:         DefaultConfig(),
		Monitor:        monitor.DefaultConfig(),
		MonitorEnabled: true,
	}
}

// Service owns the reactor, the engine, the bus channel and the monitor.
type Service struct {
	cfg     ServiceConfig
	open    Opener
	loop    *reactor.Loop
	engine  *Engine
	monitor *monitor.Server
	backoff *session.Backoff

	port      transport.Port
	source    reactor.SourceID
	reopening bool
}

func NewService(cfg ServiceConfig, deps Deps, open Opener) (*Service, error) {
	if open == nil {
		return nil, errors.New("engine: opener is required")
	}
	cfg.Engine = cfg.Engine.withDefaults()
	s := &Service{
		cfg:  cfg,
		open: open,
		loop: reactor.New(),
		backoff: session.NewBackoff(cfg.Engine.Session.Reopen,
			rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
	if cfg.MonitorEnabled {
		s.monitor = monitor.New(cfg.Monitor, s.Inject)
		if deps.Publisher == nil {
			deps.Publisher = s.monitor
		}
	}
	eng, err := New(cfg.Engine, deps, s.loop)
	if err != nil {
		return nil, err
	}
	eng.OnFailure(s.disconnect)
	s.engine = eng
	return s, nil
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the reactor until ctx is cancelled. A channel that fails is
// closed and reopened with backoff; queued frames survive the reopen.
func (s *Service) Serve(ctx context.Context) error {
	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if s.monitor != nil {
		ln, err := s.monitor.Listen()
		if err != nil {
			return fmt.Errorf("engine: monitor listen: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.monitor.Serve(monCtx, ln); err != nil {
				log.Error().Err(err).Msg("engine.Service.Serve monitor stopped")
			}
		}()
	}

	s.engine.Start()
	s.connect()
	err := s.loop.Run(ctx)
	s.loop.Stop()
	s.engine.Stop()
	s.closePort()
	cancel()
	wg.Wait()

	log.Info().Msgf("engine.Service.Serve stopped pending=%d", s.engine.Arbiter().Len())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Inject queues f from another goroutine and waits for the result.
func (s *Service) Inject(f frame.Frame) error {
	f = f.Clone()
	res := make(chan error, 1)
	err := s.loop.Post(func() {
		_, err := s.engine.Enqueue(f, session.Options{})
		res <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-time.After(injectTimeout):
		return ErrInjectTimeout
	}
}

func (s *Service) connect() {
	port, err := s.open()
	if err != nil {
		log.Warn().Err(err).Msgf("engine.Service.connect attempt=%d", s.backoff.Attempt()+1)
		s.scheduleReopen()
		return
	}
	s.port = port
	s.engine.Attach(port)
	s.source = s.loop.AddReader(port, s.onRead)
	log.Info().Msgf("engine.Service.connect attached pending=%d", s.engine.Arbiter().Len())
}

func (s *Service) onRead(data []byte, at time.Time, err error) {
	if err != nil {
		if transport.IsDisconnect(err) {
			log.Warn().Err(err).Msg("engine.Service.onRead device lost")
		} else {
			log.Error().Err(err).Msg("engine.Service.onRead")
		}
		s.engine.Fail(err)
		return
	}
	s.engine.HandleRead(data, at)
}

// disconnect is the engine failure callback.
func (s *Service) disconnect(err error) {
	s.closePort()
	if s.engine.Arbiter().Succeeded() {
		s.backoff.Reset()
	}
	log.Warn().Err(err).Msgf("engine.Service.disconnect pending=%d", s.engine.Arbiter().Len())
	s.scheduleReopen()
}

func (s *Service) closePort() {
	if s.port == nil {
		return
	}
	s.loop.RemoveSource(s.source)
	if err := s.port.Close(); err != nil {
		log.Debug().Err(err).Msg("engine.Service.closePort")
	}
	s.port = nil
	s.engine.Detach()
}

func (s *Service) scheduleReopen() {
	if s.reopening {
		return
	}
	s.reopening = true
	delay := s.backoff.Next()
	log.Info().Msgf("engine.Service.scheduleReopen delay=%s attempt=%d", delay, s.backoff.Attempt())
	s.loop.AddTimer(delay, func() bool {
		s.reopening = false
		s.connect()
		return false
	})
}
