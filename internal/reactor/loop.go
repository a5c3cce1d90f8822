// Package reactor runs every protocol callback on one goroutine.
//
// Readers are drained by their own goroutines, which hand chunks to the loop
// through an inbox; timers fire on the loop itself. Nothing a callback touches
// needs a lock.
package reactor

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("reactor: loop stopped")

const (
	inboxSize = 64
	readSize  = 256
)

type TimerID uint64

type SourceID uint64

// TimerFunc returns false to cancel its own timer.
type TimerFunc func() bool

// ReadFunc receives each non-empty chunk with its arrival time. A read error
// is delivered once with nil data and the source is removed.
type ReadFunc func(data []byte, at time.Time, err error)

type timer struct {
	id       TimerID
	interval time.Duration
	deadline time.Time
	fn       TimerFunc
}

type source struct {
	id   SourceID
	fn   ReadFunc
	done chan struct{}
}

type event struct {
	source SourceID
	data   []byte
	at     time.Time
	err    error
	fn     func()
}

// Loop is a single-goroutine event loop.
type Loop struct {
	mu      sync.Mutex
	timers  map[TimerID]*timer
	sources map[SourceID]*source
	nextID  uint64

	inbox    chan event
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func New() *Loop {
	return &Loop{
		timers:  make(map[TimerID]*timer),
		sources: make(map[SourceID]*source),
		inbox:   make(chan event, inboxSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// AddTimer schedules fn every interval, first firing one interval from now.
func (l *Loop) AddTimer(interval time.Duration, fn TimerFunc) TimerID {
	if interval <= 0 {
		interval = time.Millisecond
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := TimerID(l.nextID)
	l.timers[id] = &timer{
		id:       id,
		interval: interval,
		deadline: l.now().Add(interval),
		fn:       fn,
	}
	return id
}

// RemoveTimer cancels a timer. Removing an unknown or fired-out timer is a no-op.
func (l *Loop) RemoveTimer(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.timers, id)
}

// AddReader starts draining r. Zero-length reads, such as serial read
// timeouts, are skipped.
func (l *Loop) AddReader(r io.Reader, fn ReadFunc) SourceID {
	l.mu.Lock()
	l.nextID++
	src := &source{id: SourceID(l.nextID), fn: fn, done: make(chan struct{})}
	l.sources[src.id] = src
	l.mu.Unlock()

	go l.drain(r, src)
	return src.id
}

// RemoveSource stops delivery from a reader. Chunks already queued are dropped.
func (l *Loop) RemoveSource(id SourceID) {
	l.mu.Lock()
	src, ok := l.sources[id]
	delete(l.sources, id)
	l.mu.Unlock()
	if ok {
		close(src.done)
	}
}

// Post runs fn on the loop goroutine. It blocks while the inbox is full.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- event{fn: fn}:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Pending is the number of inbox events not yet handled.
func (l *Loop) Pending() int {
	return len(l.inbox)
}

// Stop makes Run return. It is safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Run dispatches events until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	log.Debug().Msgf("reactor.Loop.Run start timers=%d sources=%d", l.timerCount(), l.sourceCount())
	for {
		var wake <-chan time.Time
		var t *time.Timer
		if d, ok := l.untilNext(); ok {
			t = time.NewTimer(d)
			wake = t.C
		}

		select {
		case <-ctx.Done():
			stopTimer(t)
			return ctx.Err()
		case <-l.done:
			stopTimer(t)
			return nil
		case ev := <-l.inbox:
			stopTimer(t)
			l.handle(ev)
		case <-wake:
		}
		l.fireDue()
	}
}

func (l *Loop) handle(ev event) {
	if ev.fn != nil {
		ev.fn()
		return
	}
	l.mu.Lock()
	src, ok := l.sources[ev.source]
	if ok && ev.err != nil {
		delete(l.sources, ev.source)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if ev.err != nil {
		close(src.done)
	}
	src.fn(ev.data, ev.at, ev.err)
}

// fireDue runs every timer whose deadline has passed, earliest first. The due
// set is taken before any callback runs.
func (l *Loop) fireDue() {
	now := l.now()
	l.mu.Lock()
	due := make([]*timer, 0, 4)
	for _, t := range l.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	l.mu.Unlock()
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, t := range due {
		l.mu.Lock()
		_, live := l.timers[t.id]
		l.mu.Unlock()
		if !live {
			continue
		}
		keep := t.fn()
		l.mu.Lock()
		if _, still := l.timers[t.id]; still {
			if !keep {
				delete(l.timers, t.id)
			} else {
				t.deadline = t.deadline.Add(t.interval)
				if !t.deadline.After(now) {
					t.deadline = now.Add(t.interval)
				}
			}
		}
		l.mu.Unlock()
	}
}

func (l *Loop) untilNext() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var next time.Time
	for _, t := range l.timers {
		if next.IsZero() || t.deadline.Before(next) {
			next = t.deadline
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(next.Sub(l.now()), 0), true
}

func (l *Loop) drain(r io.Reader, src *source) {
	buf := make([]byte, readSize)
	for {
		n, err := r.Read(buf)
		at := l.now()
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !l.deliver(src, event{source: src.id, data: chunk, at: at}) {
				return
			}
		}
		if err != nil {
			l.deliver(src, event{source: src.id, at: at, err: err})
			return
		}
	}
}

func (l *Loop) deliver(src *source, ev event) bool {
	select {
	case l.inbox <- ev:
		return true
	case <-src.done:
		return false
	case <-l.done:
		return false
	}
}

func (l *Loop) timerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func (l *Loop) sourceCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
