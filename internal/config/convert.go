package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a Go duration string such as "4m" or "50ms". "0"
// disables the setting it controls.
func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
