// Package dispatch routes validated bus frames to handlers by byte prefix.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrEntryInvalid  = errors.New("dispatch: invalid entry")
	ErrDuplicateName = errors.New("dispatch: duplicate entry name")
)

// Handler runs on the reactor goroutine; f is only valid during the call.
type Handler func(f frame.Frame)

// Entry maps a byte prefix to an optional keystroke and an optional handler.
type Entry struct {
	Name    string
	Match   []byte
	Key     uint16
	Handler Handler
}

// KeyEmitter injects one keystroke into the host.
type KeyEmitter interface {
	Emit(code uint16)
}

// KeyGate reports whether keystrokes are currently suppressed.
type KeyGate interface {
	KeysSuppressed() bool
}

// EchoSink receives frames no entry claimed so a pending retransmission can
// be retired.
type EchoSink interface {
	OnEchoObserved(f []byte) bool
}

// Sinks are the collaborators a Table notifies. Any of them may be nil.
type Sinks struct {
	Keys KeyEmitter
	Gate KeyGate
	Echo EchoSink
}

// Table is an ordered, immutable list of entries. Earlier entries win, so a
// specific pattern must precede a shorter one sharing its prefix.
type Table struct {
	entries []Entry
	sinks   Sinks
}

// NewTable validates and copies entries.
func NewTable(entries []Entry, sinks Sinks) (*Table, error) {
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" || len(e.Match) == 0 {
			return nil, fmt.Errorf("%w: index=%d name=%q", ErrEntryInvalid, i, e.Name)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		seen[name] = struct{}{}
		e.Name = name
		e.Match = append([]byte(nil), e.Match...)
		out = append(out, e)
	}
	return &Table{entries: out, sinks: sinks}, nil
}

// Lookup returns the first entry matching f without invoking anything.
func (t *Table) Lookup(f []byte) (Entry, bool) {
	for _, e := range t.entries {
		if frame.Frame(f).HasPrefix(e.Match) {
			return e, true
		}
	}
	return Entry{}, false
}

// Dispatch runs the first matching entry and returns its name. An unmatched
// frame that was not recovered is offered to the echo sink and "" returned.
func (t *Table) Dispatch(f frame.Frame, recovered bool) string {
	e, ok := t.Lookup(f)
	if !ok {
		if !recovered && t.sinks.Echo != nil {
			t.sinks.Echo.OnEchoObserved(f)
		}
		return ""
	}

	if e.Key != 0 && t.sinks.Keys != nil {
		if t.sinks.Gate != nil && t.sinks.Gate.KeysSuppressed() {
			log.Debug().Msgf("dispatch.Table.Dispatch key suppressed entry=%q key=%d", e.Name, e.Key)
		} else {
			t.sinks.Keys.Emit(e.Key)
		}
	}
	if e.Handler != nil {
		e.Handler(f)
	}
	return e.Name
}

// Entries returns a copy of the table in match order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	return len(t.entries)
}
