// Package transport opens the bus serial line.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Port is an open bus channel.
type Port interface {
	io.ReadWriteCloser
}

type Config struct {
	Device   string
	BaudRate int
	// ReadTimeout bounds each Read so a closed port is noticed. A timed-out
	// Read returns zero bytes and no error.
	ReadTimeout time.Duration
}

// DefaultConfig is the bus line setting: 9600 8E1.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/ttyAMA0",
		BaudRate:    9600,
		ReadTimeout: 200 * time.Millisecond,
	}
}

func newMode(cfg Config) *serial.Mode {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultConfig().BaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialPort is a bus channel on a local UART.
type SerialPort struct {
	port   serial.Port
	device string
}

// OpenSerial opens and configures the device and discards stale input.
func OpenSerial(cfg Config) (*SerialPort, error) {
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, errors.New("transport: serial device is required")
	}
	mode := newMode(cfg)
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("transport: read timeout %s: %w", cfg.Device, err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Warn().Err(err).Msgf("transport.OpenSerial flush device=%s", cfg.Device)
	}
	log.Info().Msgf("transport.OpenSerial opened device=%s baud=%d parity=even", cfg.Device, mode.BaudRate)
	return &SerialPort{port: port, device: cfg.Device}, nil
}

func (p *SerialPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write sends b in full; the bus has no flow control.
func (p *SerialPort) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := p.port.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (p *SerialPort) Close() error {
	return p.port.Close()
}

func (p *SerialPort) Device() string {
	return p.device
}

// IsDisconnect reports whether err means the device went away rather than a
// configuration problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return disconnectCode(portErr.Code())
	}
	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return disconnectCode(portErrValue.Code())
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "bad file descriptor")
}

func disconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
