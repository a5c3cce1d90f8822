package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ibusctl/internal/tools"
	"github.com/rs/zerolog/log"
)

// PowerController shuts the host down.
type PowerController interface {
	PowerOff() error
}

// ClockSetter sets the host wall clock.
type ClockSetter interface {
	SetClock(t time.Time) error
}

// SystemPower flushes filesystems and runs poweroff.
type SystemPower struct {
	Runner tools.CommandRunner
	// Command defaults to /sbin/poweroff.
	Command string
	// Flush runs before the filesystems are synced, e.g. to close a log file.
	Flush func() error
}

func (p SystemPower) PowerOff() error {
	if p.Flush != nil {
		if err := p.Flush(); err != nil {
			log.Warn().Err(err).Msg("host.SystemPower.PowerOff flush")
		}
	}
	syncFilesystems()
	cmd := p.Command
	if cmd == "" {
		cmd = "/sbin/poweroff"
	}
	log.Warn().Msgf("host.SystemPower.PowerOff command=%s", cmd)
	return run(p.Runner, cmd)
}

// SystemClock sets the clock with date(1) to minute precision.
type SystemClock struct {
	Runner tools.CommandRunner
}

const clockLayout = "2006-01-02 15:04"

func (c SystemClock) SetClock(t time.Time) error {
	stamp := t.Format(clockLayout)
	log.Info().Msgf("host.SystemClock.SetClock time=%q", stamp)
	return run(c.Runner, "date", "-s", stamp)
}

func run(r tools.CommandRunner, name string, args ...string) error {
	if r == nil {
		r = tools.ExecRunner{Timeout: 10 * time.Second}
	}
	_, stderr, code, err := r.Run(name, args...)
	if err != nil {
		return fmt.Errorf("host: %s exit=%d: %w: %s", name, code, err, strings.TrimSpace(string(stderr)))
	}
	return nil
}
