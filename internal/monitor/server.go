// Package monitor serves the line-oriented TCP control channel: clients
// inject frames with "tx <hex>" and receive every bus frame as "rx <hex>" or
// "tx <hex>".
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr = "127.0.0.1:4287"
	// MaxLine bounds one command line; longer input is truncated.
	MaxLine = 256

	ReplyUnknown   = "error 00"
	ReplyMalformed = "error 01"
	ReplyRejected  = "error 02"
)

// Injector queues a validated frame for transmission. It is called from
// connection goroutines.
type Injector func(f frame.Frame) error

type Config struct {
	Addr string
	// ClientBuffer is the number of outbound lines a client may lag behind
	// before it is disconnected.
	ClientBuffer int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         DefaultAddr,
		ClientBuffer: 256,
		WriteTimeout: 5 * time.Second,
	}
}

type client struct {
	conn   net.Conn
	out    chan string
	closed sync.Once
}

func (c *client) close() {
	c.closed.Do(func() {
		close(c.out)
		_ = c.conn.Close()
	})
}

// Server fans bus traffic out to clients and forwards their injections.
type Server struct {
	cfg    Config
	inject Injector

	mu      sync.Mutex
	clients map[*client]struct{}
	active  atomic.Int64
}

func New(cfg Config, inject Injector) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Server{cfg: cfg, inject: inject, clients: make(map[*client]struct{})}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", strings.TrimSpace(s.cfg.Addr))
}

// ListenAndServe binds and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is cancelled, then disconnects them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	defer s.closeAll()
	log.Info().Msgf("monitor.Server listening addr=%q", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := &client{conn: conn, out: make(chan string, s.cfg.ClientBuffer)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		go s.writeLoop(c)
		go s.handleConn(c)
	}
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	return int(s.active.Load())
}

func (s *Server) PublishRX(f frame.Frame) {
	s.broadcast("rx " + f.Hex())
}

func (s *Server) PublishTX(f frame.Frame) {
	s.broadcast("tx " + f.Hex())
}

// broadcast never blocks; a client whose buffer is full is dropped.
func (s *Server) broadcast(line string) {
	s.mu.Lock()
	var slow []*client
	for c := range s.clients {
		select {
		case c.out <- line:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	for _, c := range slow {
		log.Warn().Msgf("monitor.Server.broadcast dropping slow client remote=%q", c.conn.RemoteAddr().String())
		c.close()
	}
}

func (s *Server) reply(c *client, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.out <- line:
	default:
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.close()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	all := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		all = append(all, c)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

func (s *Server) writeLoop(c *client) {
	w := bufio.NewWriter(c.conn)
	for line := range c.out {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_, err := w.WriteString(line + "\n")
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			s.remove(c)
			return
		}
	}
}

// handleConn reads newline-terminated commands; carriage returns are ignored.
func (s *Server) handleConn(c *client) {
	defer s.remove(c)
	remote := c.conn.RemoteAddr().String()
	active := s.active.Add(1)
	log.Info().Msgf("monitor.Server client connected remote=%q active_clients=%d", remote, active)
	defer func() {
		remaining := s.active.Add(-1)
		log.Info().Msgf("monitor.Server client disconnected remote=%q active_clients=%d", remote, remaining)
	}()

	r := bufio.NewReader(c.conn)
	line := make([]byte, 0, MaxLine)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case '\r':
		case '\n':
			if reply := s.handleCommand(string(line)); reply != "" {
				s.reply(c, reply)
			}
			line = line[:0]
		default:
			if len(line) < MaxLine-1 {
				line = append(line, b)
			}
		}
	}
}

// handleCommand executes one command line and returns the reply, if any.
func (s *Server) handleCommand(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	hex, ok := strings.CutPrefix(line, "tx ")
	if !ok {
		log.Debug().Msgf("monitor.Server.handleCommand unknown line=%q", line)
		return ReplyUnknown
	}
	f, err := ParseTX(hex)
	if err != nil {
		log.Debug().Err(err).Msgf("monitor.Server.handleCommand malformed line=%q", line)
		return ReplyMalformed
	}
	if s.inject == nil {
		return ReplyRejected
	}
	if err := s.inject(f); err != nil {
		log.Warn().Err(err).Msgf("monitor.Server.handleCommand rejected frame=%s", f)
		return ReplyRejected
	}
	return ""
}

// ParseTX decodes a frame to inject. The length byte must match the byte
// count; the checksum is recomputed when the frame is queued.
func ParseTX(hex string) (frame.Frame, error) {
	f, err := frame.Parse(hex)
	if err != nil {
		return nil, err
	}
	if len(f) < frame.MinLen {
		return nil, frame.ErrShort
	}
	if len(f) > frame.MaxLen {
		return nil, frame.ErrTooLong
	}
	if f.Declared() != len(f) {
		return nil, fmt.Errorf("%w: declared=%d size=%d", frame.ErrLength, f.Declared(), len(f))
	}
	return f, nil
}
