package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/testutil/testlog"
	"github.com/danmuck/ibusctl/internal/transport"
)

// pipePort reads what the test writes into it and records what the engine
// transmits.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

func (p *pipePort) contains(f frame.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Contains(p.written.Bytes(), f)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.MonitorEnabled = false
	cfg.Engine.ClockSync = false
	cfg.Engine.IdleTimeout = 0
	cfg.Engine.Session.Tick = 5 * time.Millisecond
	// Nothing echoes on the pipe; keep the channel from being given up.
	cfg.Engine.Session.Arbiter.MaxAttempts = 1000
	cfg.Engine.Session.Reopen.InitialDelay = 5 * time.Millisecond
	cfg.Engine.Session.Reopen.MaxDelay = 20 * time.Millisecond
	cfg.Engine.Session.Reopen.Jitter = false
	return cfg
}

func TestServiceReopensAfterOpenFailure(t *testing.T) {
	testlog.Start(t)
	port := newPipePort()
	var mu sync.Mutex
	opens := 0
	open := func() (transport.Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return nil, errors.New("no such device")
		}
		return port, nil
	}

	s, err := NewService(testServiceConfig(), Deps{}, open)
	if err != nil {
		t.Fatalf("new service err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	if _, err := port.w.Write(changer.RequestPoll); err != nil {
		t.Fatalf("write poll err=%v", err)
	}
	waitUntil(t, "present reply", func() bool { return port.contains(changer.ReplyPresent) })

	if err := s.Inject(frame.MustHex("68 03 18 01 00")); err != nil {
		t.Fatalf("inject err=%v", err)
	}
	waitUntil(t, "injected frame", func() bool { return port.contains(frame.MustHex("68 03 18 01 72")) })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve err=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if opens < 2 {
		t.Fatalf("opens=%d want >= 2", opens)
	}
	port.mu.Lock()
	defer port.mu.Unlock()
	if !port.closed {
		t.Fatalf("port not closed on shutdown")
	}
}

func TestServiceInjectAfterStop(t *testing.T) {
	testlog.Start(t)
	s, err := NewService(testServiceConfig(), Deps{}, func() (transport.Port, error) {
		return newPipePort(), nil
	})
	if err != nil {
		t.Fatalf("new service err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Serve(ctx); err != nil {
		t.Fatalf("serve err=%v", err)
	}
	if err := s.Inject(changer.ReplyPresent); err == nil {
		t.Fatalf("inject after stop succeeded")
	}
}

func TestNewServiceRequiresOpener(t *testing.T) {
	testlog.Start(t)
	if _, err := NewService(testServiceConfig(), Deps{}, nil); err == nil {
		t.Fatalf("expected error without opener")
	}
}
