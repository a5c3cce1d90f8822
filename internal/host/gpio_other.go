//go:build !linux

package host

type GPIOSensor struct {
	AlwaysIdle
}

func OpenGPIO(path string, pin int) (*GPIOSensor, error) {
	return nil, ErrUnsupported
}

func (g *GPIOSensor) Close() error { return nil }
