package transport

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/danmuck/ibusctl/internal/testutil/testlog"
	"go.bug.st/serial"
)

func TestModeIsEightEvenOne(t *testing.T) {
	testlog.Start(t)
	m := newMode(Config{})
	if m.BaudRate != 9600 || m.DataBits != 8 || m.Parity != serial.EvenParity || m.StopBits != serial.OneStopBit {
		t.Fatalf("mode=%+v", m)
	}
	if got := newMode(Config{BaudRate: 19200}).BaudRate; got != 19200 {
		t.Fatalf("baud=%d", got)
	}
}

func TestOpenSerialErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := OpenSerial(Config{}); err == nil {
		t.Fatalf("expected error for empty device")
	}
	missing := filepath.Join(t.TempDir(), "ttyMissing")
	if _, err := OpenSerial(Config{Device: missing}); err == nil {
		t.Fatalf("expected error for missing device")
	}
}

func TestIsDisconnect(t *testing.T) {
	testlog.Start(t)
	if IsDisconnect(nil) {
		t.Fatalf("nil is a disconnect")
	}
	if !IsDisconnect(fmt.Errorf("read: %w", io.EOF)) {
		t.Fatalf("EOF not a disconnect")
	}
	if !IsDisconnect(errors.New("read /dev/ttyUSB0: input/output error")) {
		t.Fatalf("EIO not a disconnect")
	}
	if IsDisconnect(errors.New("permission denied")) {
		t.Fatalf("permission error is a disconnect")
	}
}
