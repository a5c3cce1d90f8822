package engine

import (
	"github.com/danmuck/ibusctl/internal/changer"
	"github.com/danmuck/ibusctl/internal/host"
	"github.com/danmuck/ibusctl/internal/protocol/dispatch"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Alternative radio display texts shown in changer mode.
var (
	modeTextTrack      = frame.MustHex("68 12 3B 23 62 10 54 52 20 30 34")
	modeTextTrackShort = frame.MustHex("68 0E 3B 23 62 10 54 52 20 30 34")
	modeTextPadded     = frame.MustHex("68 17 3B 23 62 30 20 20 07 20 20 20 20 20 08 43 44 20 31 2D 30 34 20 20 25")
)

// entries is the dispatch table. Order matters: a specific pattern precedes
// any shorter pattern sharing its prefix.
func (e *Engine) entries() []dispatch.Entry {
	var prev, next uint16
	if e.cfg.HandleNextPrev {
		prev, next = host.KeyComma, host.KeyDot
	}
	ch := e.changer
	return []dispatch.Entry{
		{Name: "clock", Match: frame.MustHex("F0 04 FF 48 07 44"), Key: host.KeyEsc},
		{Name: "enter", Match: frame.MustHex("F0 04 3B 48 05 82"), Key: host.KeyEnter},
		{Name: "<>", Match: frame.MustHex("F0 04 68 48 14 C0"), Key: host.KeyTab},
		{Name: "rotary", Match: frame.MustHex("F0 04 3B 49"), Handler: e.handleRotary},

		{Name: "1", Match: frame.MustHex("F0 04 68 48 11 C5"), Key: host.KeySpace},
		{Name: "4", Match: frame.MustHex("F0 04 68 48 02 D6"), Key: host.KeyI},
		{Name: "2", Match: frame.MustHex("F0 04 68 48 01 D5"), Key: host.KeyZ},
		{Name: "5", Match: frame.MustHex("F0 04 68 48 13 C7"), Key: host.KeyX},
		{Name: "3", Match: frame.MustHex("F0 04 68 48 12 C6"), Key: host.KeyLeft},
		{Name: "6", Match: frame.MustHex("F0 04 68 48 03 D7"), Key: host.KeyRight},

		{Name: "mode", Match: frame.MustHex("F0 04 68 48 23 F7"), Handler: e.handleOutsideKey},
		{Name: "menu", Match: frame.MustHex("F0 04 FF 48 34 77"), Handler: e.handleOutsideKey},
		{Name: "FM", Match: frame.MustHex("F0 04 68 48 31 E5"), Handler: e.handleOutsideKey},
		{Name: "AM", Match: frame.MustHex("F0 04 68 48 21 F5"), Handler: e.handleOutsideKey},
		{Name: "screen-mainmenu", Match: frame.MustHex("68 04 3B 46 02 13"), Handler: e.handleOutsideKey},
		{Name: "screen-none", Match: frame.MustHex("68 04 3B 46 01 10")},
		{Name: "screen-toneoff", Match: frame.MustHex("68 04 3B 46 04 15")},
		{Name: "screen-selectoff", Match: frame.MustHex("68 04 3B 46 08 19")},
		{Name: "screen-toneselectoff", Match: frame.MustHex("68 04 3B 46 0C 1D")},
		{Name: "screen-unknown", Match: frame.MustHex("68 04 3B 46"), Handler: handleUnknownScreen},

		{Name: "speak", Match: frame.MustHex("50 04 C8 3B 80 27"), Key: host.KeySpace},
		{Name: "immobilized", Match: changer.Immobilized, Handler: ch.HandleImmobilizer},
		{Name: "phone", Match: frame.MustHex("F0 04 FF 48 08 4B"), Handler: e.video.Cycle},
		{Name: "ike-sensors", Match: frame.MustHex("80 0A BF 13"), Handler: e.video.Gear},
		{Name: "ike-sensors-short", Match: frame.MustHex("80 09 BF 13"), Handler: e.video.Gear},

		{Name: "time", Match: frame.MustHex("80 0C FF 24 01"), Handler: e.clock.HandleTime},
		{Name: "date", Match: frame.MustHex("80 0F FF 24 02"), Handler: e.clock.HandleDate},

		{Name: "cd-poll", Match: changer.RequestPoll, Handler: ch.HandlePoll},
		{Name: "cd-info", Match: changer.RequestInfo, Handler: ch.HandleInfo},
		{Name: "cd-stop", Match: changer.RequestStop, Handler: ch.HandleStop},
		{Name: "cd-pause", Match: changer.RequestPause, Handler: ch.HandlePause},
		{Name: "cd-start", Match: changer.RequestStart, Handler: ch.HandleStart},
		{Name: "cd-change", Match: changer.RequestDiskChange, Handler: ch.HandleDiskChange},
		{Name: "cd-prev", Match: changer.RequestPrev, Key: prev, Handler: ch.HandleStart},
		{Name: "cd-next", Match: changer.RequestNext, Key: next, Handler: ch.HandleStart},

		{Name: "cdc-mode", Match: changer.ModeText, Handler: e.handleCDCMode},
		{Name: "cdc-mode-track", Match: modeTextTrack, Handler: e.handleCDCMode},
		{Name: "cdc-mode-track-short", Match: modeTextTrackShort, Handler: e.handleCDCMode},
		{Name: "cdc-mode-padded", Match: modeTextPadded, Handler: e.handleCDCMode},
	}
}

// handleRotary turns the navigation knob into arrow keys. The low nibble is
// the number of detents.
func (e *Engine) handleRotary(f frame.Frame) {
	if len(f) < 5 || e.keysBlocked {
		return
	}
	up := e.cfg.RotaryOpposite
	switch f[4] & 0xf0 {
	case 0x80:
		up = !up
	case 0x00:
	default:
		return
	}
	key := host.KeyDown
	if up {
		key = host.KeyUp
	}
	for i, n := 0, int(f[4]&0x0f); i < n; i++ {
		e.deps.Keyboard.Emit(key)
	}
}

// handleOutsideKey hands the screen and keys back to the car.
func (e *Engine) handleOutsideKey(frame.Frame) {
	if !e.keysBlocked {
		log.Debug().Msg("engine.Engine.handleOutsideKey keyboard blocked")
	}
	e.keysBlocked = true
	e.video.Select(VideoCar)
}

func (e *Engine) handleCDCMode(f frame.Frame) {
	if e.keysBlocked {
		log.Info().Msg("engine.Engine.handleCDCMode keyboard unblocked")
	}
	e.keysBlocked = false
	e.changer.EnterCDCMode(f)
	e.video.Select(VideoHost)
}

func handleUnknownScreen(f frame.Frame) {
	if len(f) > 5 {
		log.Info().Msgf("engine.handleUnknownScreen screen=0x%02x", f[4])
	}
}
