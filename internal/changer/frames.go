package changer

import "github.com/danmuck/ibusctl/internal/protocol/frame"

// Bus addresses the changer talks to.
const (
	AddrChanger = 0x18
	AddrRadio   = 0x68
)

// Replies sent by the emulated changer.
var (
	ReplyPresent    = frame.MustHex("18 04 FF 02 00 E1")
	ReplyAnnounce   = frame.MustHex("18 04 FF 02 01 E0")
	ReplyPlaying    = frame.MustHex("18 0A 68 39 02 09 00 01 00 01 04 4C")
	ReplyNotPlaying = frame.MustHex("18 0A 68 39 00 02 00 01 00 01 04 45")
	ReplyPaused     = frame.MustHex("18 0A 68 39 01 0C 00 01 00 01 04 4A")
)

// Requests from the radio.
var (
	RequestPoll       = frame.MustHex("68 03 18 01 72")
	RequestInfo       = frame.MustHex("68 05 18 38 00 00 4D")
	RequestStop       = frame.MustHex("68 05 18 38 01 00 4C")
	RequestPause      = frame.MustHex("68 05 18 38 02 00 4F")
	RequestStart      = frame.MustHex("68 05 18 38 03 00 4E")
	RequestDiskChange = frame.MustHex("68 05 18 38 06")
	RequestPrev       = frame.MustHex("68 05 18 38 0A 01 46")
	RequestNext       = frame.MustHex("68 05 18 38 0A 00 47")
	// ModeText is the radio display update shown once CD mode is selected.
	ModeText = frame.MustHex("68 12 3B 23 62 10 43 44 43 20 31 2D 30 34 20 20 20 20 20 4C")
	// Immobilized is the key/immobilizer status that silences the changer.
	Immobilized = frame.MustHex("44 05 BF 74 00 FF 75")
)

// ValidDiskChange checks the disk-change request's trailing check byte.
func ValidDiskChange(f []byte) bool {
	return len(f) == 7 && f[6] == 0x4B^f[5]
}
