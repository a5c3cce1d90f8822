//go:build !linux

package host

// UinputKeyboard is only available on Linux.
type UinputKeyboard struct {
	NopKeyboard
}

func OpenKeyboard(path, name string) (*UinputKeyboard, error) {
	return nil, ErrUnsupported
}
