// Package annotate renders bus frames as short human-readable summaries for
// the debug log and the sniffer.
package annotate

import (
	"bytes"
	"fmt"

	"github.com/danmuck/ibusctl/internal/protocol/frame"
)

var devices = map[byte]string{
	0x00: "GM",
	0x05: "DIA",
	0x08: "SUN",
	0x18: "CDC",
	0x3b: "GT",
	0x3f: "DIA",
	0x43: "GTF",
	0x44: "EWS",
	0x46: "CID",
	0x50: "MFL",
	0x5b: "AIR",
	0x60: "PDC",
	0x68: "RAD",
	0x6a: "DSP",
	0x72: "SM",
	0x76: "CD",
	0x7f: "NAV",
	0x80: "IKE",
	0xa4: "BAG",
	0xb0: "SES",
	0xbb: "JNV",
	0xbf: "GLO",
	0xc0: "MID",
	0xc8: "TEL",
	0xd0: "LCM",
	0xe7: "ANZ",
	0xe8: "RLS",
	0xed: "TV",
	0xf0: "BMB",
	0xff: "LOC",
}

// Device names a bus address, or "$xx" when unknown.
func Device(addr byte) string {
	if name, ok := devices[addr]; ok {
		return name
	}
	return fmt.Sprintf("$%02x", addr)
}

// Route renders "SRC>DST".
func Route(src, dst byte) string {
	return Device(src) + ">" + Device(dst)
}

// Line is the sniffer rendering: route, hex and a description when known.
func Line(f frame.Frame) string {
	if len(f) < frame.MinLen {
		return f.String()
	}
	desc := Describe(f)
	if desc == "" {
		return fmt.Sprintf("%-9s %s", Route(f.Source(), f.Dest()), f)
	}
	return fmt.Sprintf("%-9s %s  %s", Route(f.Source(), f.Dest()), f, desc)
}

type rule func(f frame.Frame) (string, bool)

var rules = []rule{
	wheelButton,
	boardButton,
	rotary,
	volume,
	cdCommand,
	cdStatus,
	displayText,
	gearSensor,
	ignition,
	speed,
	temperature,
	computerData,
	computerRequest,
	screenMode,
	audioSource,
	keyStatus,
	ping,
	pong,
}

// Describe returns a summary of f, or "" when nothing is known about it.
func Describe(f frame.Frame) string {
	if len(f) < frame.MinLen {
		return ""
	}
	for _, r := range rules {
		if s, ok := r(f); ok {
			return s
		}
	}
	return ""
}

func has(f frame.Frame, n int, prefix string) bool {
	return len(f) == n && bytes.HasPrefix(f, []byte(prefix))
}

var wheelButtons = map[byte]string{0x0: "none", 0x1: ">", 0x8: "<"}

func wheelButton(f frame.Frame) (string, bool) {
	if len(f) != 6 || f[0] != 0x50 || f[3] != 0x3b {
		return "", false
	}
	button := wheelButtons[f[4]&0x0f]
	if f[4]&0x80 != 0 {
		button = "speak"
	}
	to := ""
	if f[4]&0x40 != 0 {
		to = ":tel"
	}
	return fmt.Sprintf("wheel-%s=%s%s", press(f[4]&0x30, 0x00, 0x10, 0x20), button, to), true
}

func press(bits, down, hold, up byte) string {
	switch bits {
	case down:
		return "down"
	case hold:
		return "hold"
	case up:
		return "up"
	default:
		return "?"
	}
}

var boardButtons = map[byte]string{
	0x00: ">", 0x01: "2", 0x02: "4", 0x03: "6", 0x04: "tone", 0x05: "knob",
	0x06: "radio", 0x07: "clock", 0x08: "phone",
	0x10: "<", 0x11: "1", 0x12: "3", 0x13: "5", 0x14: "<>", 0x15: "route",
	0x20: "select", 0x21: "AM", 0x22: "RDS", 0x23: "mode", 0x24: "eject", 0x25: "repeat",
	0x30: "display", 0x31: "FM", 0x32: "FP", 0x33: "dolby", 0x34: "menu", 0x35: "mute",
}

func boardButton(f frame.Frame) (string, bool) {
	if len(f) != 6 || f[0] != 0xf0 || f[3] != 0x48 {
		return "", false
	}
	name, ok := boardButtons[f[4]&0x3f]
	if !ok {
		name = fmt.Sprintf("0x%02x", f[4]&0x3f)
	}
	kind := "down"
	switch {
	case f[4]&0x40 != 0:
		kind = "hold"
	case f[4]&0x80 != 0:
		kind = "up"
	}
	return fmt.Sprintf("button-%s=%s", kind, name), true
}

func rotary(f frame.Frame) (string, bool) {
	if len(f) != 6 || f[0] != 0xf0 || f[3] != 0x49 {
		return "", false
	}
	dir := "down"
	if f[4]&0x80 != 0 {
		dir = "up"
	}
	if n := f[4] & 0x0f; n != 1 {
		return fmt.Sprintf("rotary=%s repeat=%d", dir, n), true
	}
	return "rotary=" + dir, true
}

func volume(f frame.Frame) (string, bool) {
	if !has(f, 6, "\xf0\x04\x68\x32") {
		return "", false
	}
	dir := "down"
	if f[4]&1 != 0 {
		dir = "up"
	}
	if f[4]&0xf0 != 0x10 {
		return fmt.Sprintf("volume=%s repeat=%d", dir, f[4]>>4), true
	}
	return "volume=" + dir, true
}

func cdDevice(addr byte) string {
	switch addr {
	case 0x18:
		return "cdc"
	case 0x76, 0xf0:
		return "cd"
	default:
		return "?"
	}
}

func cdCommand(f frame.Frame) (string, bool) {
	if len(f) < 7 || f[3] != 0x38 || cdDevice(f[2]) == "?" {
		return "", false
	}
	cmd := "?"
	switch f[4] & 0x7f {
	case 0x00:
		cmd = "info"
	case 0x01:
		cmd = "stop"
	case 0x02:
		cmd = "pause"
	case 0x03:
		cmd = "play"
	case 0x04:
		cmd = "rwd"
		if f[5] != 0 {
			cmd = "fwd"
		}
	case 0x06:
		cmd = "diskchange"
	case 0x0a:
		cmd = "next"
		if f[5] != 0 {
			cmd = "prev"
		}
	}
	return cdDevice(f[2]) + "-" + cmd, true
}

func cdStatus(f frame.Frame) (string, bool) {
	if len(f) < 12 || f[3] != 0x39 || cdDevice(f[0]) == "?" {
		return "", false
	}
	status := map[byte]string{
		0x00: "stopped", 0x01: "paused", 0x02: "playing", 0x07: "searching",
		0x09: "checking", 0x0b: "nodisk", 0x0c: "disk",
	}[f[4]&0x7f]
	if status == "" {
		status = "?"
	}
	return cdDevice(f[0]) + "=" + status, true
}

func displayText(f frame.Frame) (string, bool) {
	switch {
	case len(f) > 8 && f[2] == 0x3b && (f[3] == 0xa5 || f[3] == 0x21):
		return fmt.Sprintf("%q", string(f[7:len(f)-1])), true
	case len(f) > 7 && (f[2] == 0x3b || f[2] == 0x80) && f[3] == 0x23:
		return fmt.Sprintf("%q", string(f[6:len(f)-1])), true
	}
	return "", false
}

var gears = [16]string{"", "R", "1", "?", "2", "?5", "?6", "N", "D", "L", "?a", "P", "4", "3", "5", "6"}

func gearSensor(f frame.Frame) (string, bool) {
	if len(f) < 11 || f[0] != 0x80 || f[2] != 0xbf || f[3] != 0x13 {
		return "", false
	}
	return "gear=" + gears[f[5]>>4], true
}

func ignition(f frame.Frame) (string, bool) {
	if !has(f, 6, "\x80\x04\xbf\x11") {
		return "", false
	}
	state := map[byte]string{0x00: "off", 0x01: "acc", 0x03: "on", 0x07: "start"}[f[4]]
	if state == "" {
		return "", false
	}
	return "ignition=" + state, true
}

func speed(f frame.Frame) (string, bool) {
	if !has(f, 7, "\x80\x05\xbf\x18") {
		return "", false
	}
	return fmt.Sprintf("speed=%d rpm=%d", int(f[4])*2, int(f[5])*100), true
}

func temperature(f frame.Frame) (string, bool) {
	if !has(f, 8, "\x80\x06\xbf\x19") {
		return "", false
	}
	return fmt.Sprintf("outside=%d coolant=%d", int8(f[4]), int8(f[5])), true
}

var computerFunctions = map[byte]string{
	0x01: "time", 0x02: "date", 0x03: "temp", 0x04: "consump1", 0x05: "consump2",
	0x06: "range", 0x07: "distance", 0x08: "arrival", 0x09: "limit",
	0x0a: "avspeed", 0x0c: "memo", 0x1b: "air",
}

func computerFunction(b byte) string {
	if name, ok := computerFunctions[b]; ok {
		return name
	}
	return "?"
}

func computerData(f frame.Frame) (string, bool) {
	if len(f) <= 7 || f[0] != 0x80 || f[2] != 0xff || f[3] != 0x24 {
		return "", false
	}
	return computerFunction(f[4]) + "=" + string(f[6:len(f)-1]), true
}

func computerRequest(f frame.Frame) (string, bool) {
	if len(f) != 7 || !bytes.Equal(f[1:4], []byte{0x05, 0x80, 0x41}) {
		return "", false
	}
	switch f[5] {
	case 1:
		return "getdata=" + computerFunction(f[4]), true
	case 2:
		return "getstatus=" + computerFunction(f[4]), true
	}
	return "", false
}

func screenMode(f frame.Frame) (string, bool) {
	if !has(f, 6, "\x68\x04\x3b\x46") || f[4]&0x10 != 0 {
		return "", false
	}
	mode := map[byte]string{0: "norm", 1: "none", 2: "radio", 4: "select", 8: "tone", 12: "clear"}[f[4]]
	if mode == "" {
		mode = "?"
	}
	return "screen=" + mode, true
}

func audioSource(f frame.Frame) (string, bool) {
	if !has(f, 7, "\x3b\x05\x68\x4e") || f[4]&0x80 != 0 {
		return "", false
	}
	src := map[byte]string{0: "radio", 1: "tv", 4: "nav"}[f[4]&0x07]
	if src == "" {
		return "", false
	}
	return "audio=" + src, true
}

func keyStatus(f frame.Frame) (string, bool) {
	if !has(f, 7, "\x44\x05\xbf\x74") {
		return "", false
	}
	key := map[byte]string{0: "none", 1: "unlock", 4: "insert", 5: "unlock"}[f[4]]
	if key == "" {
		key = "?"
	}
	if f[5] == 0xff {
		key = "immobilized"
	}
	return "key=" + key, true
}

func ping(f frame.Frame) (string, bool) {
	if len(f) == 5 && f[3] == 0x01 {
		return "ping", true
	}
	return "", false
}

func pong(f frame.Frame) (string, bool) {
	if f[3] != 0x02 {
		return "", false
	}
	switch len(f) {
	case 6:
		return fmt.Sprintf("pong=%02x", f[4]), true
	case 7:
		return fmt.Sprintf("pong=%02x%02x", f[4], f[5]), true
	}
	return "", false
}
