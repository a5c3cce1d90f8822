// Package host adapts the bus daemon to the machine it runs on: virtual
// keyboard, bus-idle sense line, power and clock.
package host

import (
	"errors"

	"github.com/rs/zerolog/log"
)

var ErrUnsupported = errors.New("host: not supported on this platform")

const DefaultKeyboardName = "uinput-ibus"

// Keyboard injects keystrokes into the host input stack.
type Keyboard interface {
	Emit(code uint16)
	Close() error
}

// NopKeyboard logs keystrokes instead of injecting them.
type NopKeyboard struct{}

func (NopKeyboard) Emit(code uint16) {
	key, ctrl := splitModifier(code)
	log.Debug().Msgf("host.NopKeyboard.Emit key=%d ctrl=%t", key, ctrl)
}

func (NopKeyboard) Close() error { return nil }

// keySequence is the event order for one keystroke: modifier down, key down,
// key up, modifier up. Each pair is (code, value).
func keySequence(code uint16) [][2]int32 {
	key, ctrl := splitModifier(code)
	seq := make([][2]int32, 0, 4)
	if ctrl {
		seq = append(seq, [2]int32{int32(KeyLeftCtrl), 1})
	}
	seq = append(seq, [2]int32{int32(key), 1}, [2]int32{int32(key), 0})
	if ctrl {
		seq = append(seq, [2]int32{int32(KeyLeftCtrl), 0})
	}
	return seq
}
