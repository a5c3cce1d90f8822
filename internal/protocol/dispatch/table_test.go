package dispatch

import (
	"errors"
	"testing"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/danmuck/ibusctl/internal/testutil/testlog"
)

type keyRecorder struct{ codes []uint16 }

func (k *keyRecorder) Emit(code uint16) { k.codes = append(k.codes, code) }

type gate bool

func (g gate) KeysSuppressed() bool { return bool(g) }

type echoRecorder struct{ frames []frame.Frame }

func (e *echoRecorder) OnEchoObserved(f []byte) bool {
	e.frames = append(e.frames, frame.Frame(f).Clone())
	return true
}

func TestDispatchSpecificBeforeGeneric(t *testing.T) {
	testlog.Start(t)
	var hits []string
	record := func(name string) Handler {
		return func(frame.Frame) { hits = append(hits, name) }
	}
	keys := &keyRecorder{}
	table, err := NewTable([]Entry{
		{Name: "cd-stop", Match: frame.MustHex("68 05 18 38 01 00 4c"), Handler: record("cd-stop")},
		{Name: "cd-change", Match: frame.MustHex("68 05 18 38 06"), Handler: record("cd-change")},
		{Name: "screen-unknown", Match: frame.MustHex("68 04 3b 46"), Key: 1},
	}, Sinks{Keys: keys})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}

	if got := table.Dispatch(frame.MustHex("68 05 18 38 01 00 4c"), false); got != "cd-stop" {
		t.Fatalf("matched=%q", got)
	}
	if got := table.Dispatch(frame.MustHex("68 05 18 38 06 02 49"), false); got != "cd-change" {
		t.Fatalf("matched=%q", got)
	}
	if got := table.Dispatch(frame.MustHex("68 04 3b 46 7f 0e"), false); got != "screen-unknown" {
		t.Fatalf("matched=%q", got)
	}
	if len(hits) != 2 || hits[0] != "cd-stop" || hits[1] != "cd-change" {
		t.Fatalf("handlers=%v", hits)
	}
	if len(keys.codes) != 1 || keys.codes[0] != 1 {
		t.Fatalf("keys=%v", keys.codes)
	}
}

func TestDispatchPatternLongerThanFrame(t *testing.T) {
	testlog.Start(t)
	table, err := NewTable([]Entry{
		{Name: "long", Match: frame.MustHex("68 05 18 38 00 00 4d")},
	}, Sinks{})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if got := table.Dispatch(frame.MustHex("68 03 18 38 4b"), false); got != "" {
		t.Fatalf("short frame matched=%q", got)
	}
}

func TestDispatchKeyGate(t *testing.T) {
	testlog.Start(t)
	keys := &keyRecorder{}
	called := 0
	entries := []Entry{{
		Name:    "enter",
		Match:   frame.MustHex("f0 04 3b 48 05 82"),
		Key:     28,
		Handler: func(frame.Frame) { called++ },
	}}
	blocked, _ := NewTable(entries, Sinks{Keys: keys, Gate: gate(true)})
	blocked.Dispatch(frame.MustHex("f0 04 3b 48 05 82"), false)
	if len(keys.codes) != 0 {
		t.Fatalf("suppressed key emitted=%v", keys.codes)
	}
	if called != 1 {
		t.Fatalf("handler skipped while keys suppressed")
	}

	open, _ := NewTable(entries, Sinks{Keys: keys, Gate: gate(false)})
	open.Dispatch(frame.MustHex("f0 04 3b 48 05 82"), false)
	if len(keys.codes) != 1 || keys.codes[0] != 28 {
		t.Fatalf("keys=%v", keys.codes)
	}
}

func TestDispatchUnmatchedGoesToEchoSink(t *testing.T) {
	testlog.Start(t)
	echo := &echoRecorder{}
	table, _ := NewTable([]Entry{
		{Name: "poll", Match: frame.MustHex("68 03 18 01 72")},
	}, Sinks{Echo: echo})

	table.Dispatch(frame.MustHex("18 04 ff 02 00 e1"), false)
	table.Dispatch(frame.MustHex("18 04 ff 02 01 e0"), true)
	table.Dispatch(frame.MustHex("68 03 18 01 72"), false)

	if len(echo.frames) != 1 || echo.frames[0].Hex() != "1804ff0200e1" {
		t.Fatalf("echo frames=%v", echo.frames)
	}
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	testlog.Start(t)
	if _, err := NewTable([]Entry{{Name: "", Match: []byte{1}}}, Sinks{}); !errors.Is(err, ErrEntryInvalid) {
		t.Fatalf("empty name err=%v", err)
	}
	if _, err := NewTable([]Entry{{Name: "x"}}, Sinks{}); !errors.Is(err, ErrEntryInvalid) {
		t.Fatalf("empty match err=%v", err)
	}
	_, err := NewTable([]Entry{
		{Name: "x", Match: []byte{1}},
		{Name: "x", Match: []byte{2}},
	}, Sinks{})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestEntriesIsACopy(t *testing.T) {
	testlog.Start(t)
	match := []byte{0x68, 0x03}
	table, _ := NewTable([]Entry{{Name: "x", Match: match}}, Sinks{})
	match[0] = 0x00
	got := table.Entries()
	got[0].Name = "mutated"
	if e, ok := table.Lookup([]byte{0x68, 0x03, 0x18, 0x01}); !ok || e.Name != "x" {
		t.Fatalf("lookup ok=%t name=%q", ok, e.Name)
	}
}
