package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Wire offsets.
const (
	OffSource = 0
	OffLength = 1
	OffDest   = 2
	OffData   = 3
)

const (
	// MinLen is the smallest frame the receiver and validator accept:
	// source, length, destination and checksum.
	MinLen = 4
	// MaxLen bounds a single frame; the length byte itself allows 257.
	MaxLen = 192
)

var (
	ErrShort    = errors.New("frame: shorter than minimum length")
	ErrLength   = errors.New("frame: length byte does not match size")
	ErrChecksum = errors.New("frame: checksum mismatch")
	ErrTooLong  = errors.New("frame: exceeds maximum length")
	ErrHex      = errors.New("frame: invalid hex")
)

// Frame is one bus message: [source, length, destination, data..., checksum].
// A Frame handed to a handler by the Receiver aliases the receive buffer and
// is only valid for the duration of that call; use Clone to keep it.
type Frame []byte

// Checksum returns the XOR of every byte in b.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum ^= c
	}
	return sum
}

// Validate reports whether f is at least MinLen bytes long and its trailing
// byte equals the XOR of the preceding bytes. Two mutations that cancel each
// other under XOR are not detected.
func Validate(f []byte) bool {
	if len(f) < MinLen {
		return false
	}
	return Checksum(f[:len(f)-1]) == f[len(f)-1]
}

// Check is Validate with a reason, and also verifies the length byte.
func Check(f []byte) error {
	if len(f) < MinLen {
		return ErrShort
	}
	if len(f) > MaxLen {
		return ErrTooLong
	}
	if int(f[OffLength])+2 != len(f) {
		return fmt.Errorf("%w: declared=%d size=%d", ErrLength, int(f[OffLength])+2, len(f))
	}
	if !Validate(f) {
		return ErrChecksum
	}
	return nil
}

// Seal overwrites the trailing byte of b with the checksum of the rest.
func Seal(b []byte) {
	if len(b) == 0 {
		return
	}
	b[len(b)-1] = Checksum(b[:len(b)-1])
}

// Build assembles a sealed frame from its parts. The length byte is derived.
func Build(src, dst byte, data ...byte) Frame {
	f := make(Frame, 0, len(data)+4)
	f = append(f, src, byte(len(data)+2), dst)
	f = append(f, data...)
	f = append(f, 0)
	Seal(f)
	return f
}

// Parse decodes hex text such as "18 04 FF 02 00 E1" or "1804ff0200e1".
// It does not validate the result.
func Parse(s string) (Frame, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':', '-':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if clean == "" {
		return nil, ErrHex
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHex, err)
	}
	return Frame(b), nil
}

// MustHex is Parse for constant tables; it panics on bad input.
func MustHex(s string) Frame {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Frame) Source() byte {
	if len(f) <= OffSource {
		return 0
	}
	return f[OffSource]
}

func (f Frame) Dest() byte {
	if len(f) <= OffDest {
		return 0
	}
	return f[OffDest]
}

// Declared is the total size announced by the length byte.
func (f Frame) Declared() int {
	if len(f) <= OffLength {
		return 0
	}
	return int(f[OffLength]) + 2
}

// Payload returns the bytes between the destination and the checksum.
func (f Frame) Payload() []byte {
	if len(f) < MinLen {
		return nil
	}
	return f[OffData : len(f)-1]
}

func (f Frame) Valid() bool {
	return Validate(f)
}

func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

func (f Frame) Equal(other []byte) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether f starts with p.
func (f Frame) HasPrefix(p []byte) bool {
	return len(p) <= len(f) && f[:len(p)].Equal(p)
}

// Hex renders compact lower-case hex, the monitor wire format.
func (f Frame) Hex() string {
	return hex.EncodeToString(f)
}

// String renders upper-case hex separated by spaces.
func (f Frame) String() string {
	var b strings.Builder
	for i, c := range f {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
