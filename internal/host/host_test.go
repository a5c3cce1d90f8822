package host

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ibusctl/internal/testutil/testlog"
)

type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, []byte("permission denied\n"), 1, f.err
	}
	return nil, nil, 0, nil
}

func TestKeySequencePlainAndCtrl(t *testing.T) {
	testlog.Start(t)
	plain := keySequence(KeyEnter)
	if len(plain) != 2 || plain[0] != [2]int32{28, 1} || plain[1] != [2]int32{28, 0} {
		t.Fatalf("plain sequence=%v", plain)
	}
	ctrl := keySequence(Ctrl(KeyZ))
	want := [][2]int32{{29, 1}, {44, 1}, {44, 0}, {29, 0}}
	if len(ctrl) != len(want) {
		t.Fatalf("ctrl sequence=%v", ctrl)
	}
	for i := range want {
		if ctrl[i] != want[i] {
			t.Fatalf("ctrl sequence[%d]=%v want=%v", i, ctrl[i], want[i])
		}
	}
}

func TestLevelBit(t *testing.T) {
	testlog.Start(t)
	reg := uint32(1 << DefaultGPIOPin)
	if !levelBit(reg, DefaultGPIOPin) {
		t.Fatalf("pin %d not high", DefaultGPIOPin)
	}
	if levelBit(reg, 17) {
		t.Fatalf("pin 17 reported high")
	}
	if !(AlwaysIdle{}).BusIdle() {
		t.Fatalf("AlwaysIdle reported busy")
	}
}

func TestSystemClockRunsDate(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{}
	c := SystemClock{Runner: r}
	at := time.Date(2010, time.January, 26, 17, 4, 0, 0, time.Local)
	if err := c.SetClock(at); err != nil {
		t.Fatalf("set clock: %v", err)
	}
	if len(r.calls) != 1 || strings.Join(r.calls[0], "|") != "date|-s|2010-01-26 17:04" {
		t.Fatalf("calls=%q", r.calls)
	}
}

func TestSystemPowerReportsFailure(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{err: errors.New("exit status 1")}
	p := SystemPower{Runner: r, Command: "/bin/false-poweroff"}
	err := p.PowerOff()
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("err=%v", err)
	}
	if len(r.calls) != 1 || r.calls[0][0] != "/bin/false-poweroff" {
		t.Fatalf("calls=%q", r.calls)
	}
}

func TestNopKeyboard(t *testing.T) {
	testlog.Start(t)
	var kb Keyboard = NopKeyboard{}
	kb.Emit(Ctrl(KeyX))
	if err := kb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSystemPowerFlushesFirst(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{}
	flushed := false
	p := SystemPower{Runner: r, Flush: func() error {
		if len(r.calls) != 0 {
			t.Fatalf("flush ran after poweroff calls=%q", r.calls)
		}
		flushed = true
		return nil
	}}
	if err := p.PowerOff(); err != nil {
		t.Fatalf("power off: %v", err)
	}
	if !flushed || len(r.calls) != 1 || r.calls[0][0] != "/sbin/poweroff" {
		t.Fatalf("flushed=%t calls=%q", flushed, r.calls)
	}
}
