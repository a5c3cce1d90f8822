package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ibusctl", "daemon":
		return daemonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `# ibusctl configuration. Omitted keys keep their defaults.

port = "/dev/ttyAMA0"

# Bus-idle sense line from the transceiver. Empty gpio_device disables it.
gpio_device = "/dev/gpiomem"
gpio_pin = 18

# Virtual keyboard. Empty disables key injection.
keyboard = "/dev/uinput"

# Power the host off after this long without bus traffic. "0" disables.
idle_timeout = "4m"
poweroff_command = "/sbin/poweroff"

cdc_announce = true
# Repeat the changer status reply. "0" disables.
cdc_info_interval = "0"

camera = true
bluetooth = false
handle_nextprev = true
rotary_opposite = false
clock_sync = true

# Monitor server for ibussend. Empty disables it.
monitor_addr = "127.0.0.1:4287"

log_level = "info"
log_file = ""

tick = "50ms"
echo_wait_ticks = 10
max_attempts = 3
max_pending = 64
`
