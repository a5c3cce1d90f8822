package reactor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/ibusctl/internal/testutil/testlog"
)

func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestTimerRepeatsUntilFalse(t *testing.T) {
	testlog.Start(t)
	l := New()
	fired := 0
	l.AddTimer(5*time.Millisecond, func() bool {
		fired++
		if fired == 3 {
			l.Stop()
			return false
		}
		return true
	})
	runLoop(t, l)
	if fired != 3 {
		t.Fatalf("fired=%d want 3", fired)
	}
	if l.timerCount() != 0 {
		t.Fatalf("timer not removed count=%d", l.timerCount())
	}
}

func TestRemoveTimerFromCallback(t *testing.T) {
	testlog.Start(t)
	l := New()
	victimFired := 0
	var victim TimerID
	victim = l.AddTimer(20*time.Millisecond, func() bool {
		victimFired++
		return true
	})
	l.AddTimer(5*time.Millisecond, func() bool {
		l.RemoveTimer(victim)
		l.AddTimer(60*time.Millisecond, func() bool {
			l.Stop()
			return false
		})
		return false
	})
	runLoop(t, l)
	if victimFired != 0 {
		t.Fatalf("removed timer fired=%d", victimFired)
	}
}

type scriptedReader struct {
	chunks [][]byte
	final  error
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.final
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, c), nil
}

func TestReaderDeliversChunksThenError(t *testing.T) {
	testlog.Start(t)
	l := New()
	var got []string
	var gotErr error
	r := &scriptedReader{
		chunks: [][]byte{[]byte("ab"), {}, []byte("cd")},
		final:  io.EOF,
	}
	l.AddReader(r, func(data []byte, at time.Time, err error) {
		if err != nil {
			gotErr = err
			l.Stop()
			return
		}
		if at.IsZero() {
			t.Errorf("zero arrival time")
		}
		got = append(got, string(data))
	})
	runLoop(t, l)
	if len(got) != 2 || got[0] != "ab" || got[1] != "cd" {
		t.Fatalf("chunks=%q", got)
	}
	if !errors.Is(gotErr, io.EOF) {
		t.Fatalf("err=%v want EOF", gotErr)
	}
	if l.sourceCount() != 0 {
		t.Fatalf("failed source still registered")
	}
}

func TestRemoveSourceDropsLaterChunks(t *testing.T) {
	testlog.Start(t)
	l := New()
	var got []string
	r := &scriptedReader{
		chunks: [][]byte{[]byte("first"), []byte("second"), []byte("third")},
		final:  io.EOF,
	}
	var id SourceID
	id = l.AddReader(r, func(data []byte, at time.Time, err error) {
		got = append(got, string(data))
		l.RemoveSource(id)
	})
	l.AddTimer(50*time.Millisecond, func() bool {
		l.Stop()
		return false
	})
	runLoop(t, l)
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("chunks=%q", got)
	}
}

func TestPostRunsOnLoop(t *testing.T) {
	testlog.Start(t)
	l := New()
	ran := make(chan struct{})
	go func() {
		if err := l.Post(func() {
			close(ran)
			l.Stop()
		}); err != nil {
			t.Errorf("post: %v", err)
		}
	}()
	runLoop(t, l)
	select {
	case <-ran:
	default:
		t.Fatalf("posted func did not run")
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("post after stop err=%v", err)
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	l.AddTimer(5*time.Millisecond, func() bool {
		cancel()
		return false
	})
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err=%v want canceled", err)
	}
}
