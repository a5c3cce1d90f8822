//go:build linux

package host

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// GPIOSensor samples one input pin of the BCM283x GPIO block. The line is
// high while the bus is idle.
type GPIOSensor struct {
	mem []byte
	pin int
}

// OpenGPIO maps the GPIO registers through path, normally /dev/gpiomem.
func OpenGPIO(path string, pin int) (*GPIOSensor, error) {
	if pin < 0 || pin > 31 {
		return nil, fmt.Errorf("host: gpio pin %d out of range", pin)
	}
	if path == "" {
		path = "/dev/gpiomem"
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("host: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, 0, gpioBlock, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("host: mmap %s: %w", path, err)
	}
	log.Info().Msgf("host.OpenGPIO mapped path=%s pin=%d", path, pin)
	return &GPIOSensor{mem: mem, pin: pin}, nil
}

func (g *GPIOSensor) BusIdle() bool {
	reg := atomic.LoadUint32((*uint32)(unsafe.Pointer(&g.mem[gpioLevel0])))
	return levelBit(reg, g.pin)
}

func (g *GPIOSensor) Close() error {
	if g.mem == nil {
		return nil
	}
	err := unix.Munmap(g.mem)
	g.mem = nil
	return err
}
