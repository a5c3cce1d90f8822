package host

// IdleSensor reports whether no other node is transmitting on the bus.
type IdleSensor interface {
	BusIdle() bool
}

// AlwaysIdle is used when no sense line is wired.
type AlwaysIdle struct{}

func (AlwaysIdle) BusIdle() bool { return true }

const (
	// DefaultGPIOPin carries the transceiver's bus-idle output.
	DefaultGPIOPin = 18

	gpioLevel0 = 0x34
	gpioBlock  = 4 * 1024
)

// levelBit extracts one pin from the GPLEV0 register value.
func levelBit(reg uint32, pin int) bool {
	return reg&(1<<uint(pin)) != 0
}
