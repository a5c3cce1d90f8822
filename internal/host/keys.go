package host

// Linux input key codes used by the steering-wheel and navigation mappings.
const (
	KeyEsc      uint16 = 1
	KeyTab      uint16 = 15
	KeyI        uint16 = 23
	KeyEnter    uint16 = 28
	KeyLeftCtrl uint16 = 29
	KeyZ        uint16 = 44
	KeyX        uint16 = 45
	KeyComma    uint16 = 51
	KeyDot      uint16 = 52
	KeySpace    uint16 = 57
	KeyUp       uint16 = 103
	KeyLeft     uint16 = 105
	KeyRight    uint16 = 106
	KeyDown     uint16 = 108
)

// CtrlBit marks a code that is sent with left control held.
const CtrlBit uint16 = 0x8000

func Ctrl(code uint16) uint16 {
	return code | CtrlBit
}

// splitModifier separates the control modifier from the key.
func splitModifier(code uint16) (key uint16, ctrl bool) {
	return code &^ CtrlBit, code&CtrlBit != 0
}
