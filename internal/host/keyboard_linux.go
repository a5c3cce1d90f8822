//go:build linux

package host

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	evSyn = 0x00
	evKey = 0x01

	busUSB = 0x03

	uinputMaxNameSize = 80
	absCnt            = 64
)

// UinputKeyboard is a virtual keyboard created through /dev/uinput.
type UinputKeyboard struct {
	fd int
}

// OpenKeyboard registers a virtual keyboard able to emit every key code
// below 255.
func OpenKeyboard(path, name string) (*UinputKeyboard, error) {
	if path == "" {
		path = "/dev/uinput"
	}
	if name == "" {
		name = DefaultKeyboardName
	}
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("host: open %s: %w", path, err)
	}
	kb := &UinputKeyboard{fd: fd}
	if err := kb.setup(name); err != nil {
		unix.Close(fd)
		return nil, err
	}
	log.Info().Msgf("host.OpenKeyboard created name=%q path=%s", name, path)
	return kb, nil
}

func (k *UinputKeyboard) setup(name string) error {
	for _, ev := range []int{evKey, evSyn} {
		if err := unix.IoctlSetInt(k.fd, uiSetEvBit, ev); err != nil {
			return fmt.Errorf("host: UI_SET_EVBIT %d: %w", ev, err)
		}
	}
	for code := 1; code < 255; code++ {
		if err := unix.IoctlSetInt(k.fd, uiSetKeyBit, code); err != nil {
			return fmt.Errorf("host: UI_SET_KEYBIT %d: %w", code, err)
		}
	}
	if _, err := unix.Write(k.fd, userDev(name)); err != nil {
		return fmt.Errorf("host: write uinput_user_dev: %w", err)
	}
	if err := unix.IoctlSetInt(k.fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("host: UI_DEV_CREATE: %w", err)
	}
	return nil
}

// userDev encodes struct uinput_user_dev.
func userDev(name string) []byte {
	buf := make([]byte, uinputMaxNameSize+8+4+4*absCnt*4)
	copy(buf[:uinputMaxNameSize-1], name)
	id := buf[uinputMaxNameSize:]
	binary.NativeEndian.PutUint16(id[0:], busUSB)
	binary.NativeEndian.PutUint16(id[2:], 0x1)
	binary.NativeEndian.PutUint16(id[4:], 0x1)
	binary.NativeEndian.PutUint16(id[6:], 1)
	return buf
}

// inputEvent encodes struct input_event with a zero timestamp.
func inputEvent(typ, code uint16, value int32) []byte {
	tv := int(unsafe.Sizeof(unix.Timeval{}))
	buf := make([]byte, tv+8)
	binary.NativeEndian.PutUint16(buf[tv:], typ)
	binary.NativeEndian.PutUint16(buf[tv+2:], code)
	binary.NativeEndian.PutUint32(buf[tv+4:], uint32(value))
	return buf
}

// Emit presses and releases code, holding left control for Ctrl codes.
func (k *UinputKeyboard) Emit(code uint16) {
	for _, ev := range keySequence(code) {
		if _, err := unix.Write(k.fd, inputEvent(evKey, uint16(ev[0]), ev[1])); err != nil {
			log.Warn().Err(err).Msgf("host.UinputKeyboard.Emit key=%d", ev[0])
			return
		}
	}
	if _, err := unix.Write(k.fd, inputEvent(evSyn, 0, 0)); err != nil {
		log.Warn().Err(err).Msg("host.UinputKeyboard.Emit syn")
		return
	}
	_ = unix.Fdatasync(k.fd)
}

func (k *UinputKeyboard) Close() error {
	if k.fd < 0 {
		return nil
	}
	_ = unix.IoctlSetInt(k.fd, uiDevDestroy, 0)
	err := unix.Close(k.fd)
	k.fd = -1
	return err
}
