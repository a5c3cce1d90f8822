package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/ibusctl/internal/config"
	"github.com/danmuck/ibusctl/internal/engine"
	"github.com/danmuck/ibusctl/internal/host"
	"github.com/danmuck/ibusctl/internal/logging"
	"github.com/danmuck/ibusctl/internal/protocol/session"
	"github.com/danmuck/ibusctl/internal/tools"
	"github.com/danmuck/ibusctl/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ibusctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if opts.writeConfig != "" {
		if err := config.WriteTemplate(opts.writeConfig, "ibusctl", opts.force); err != nil {
			return err
		}
		fmt.Printf("wrote config template to %s\n", opts.writeConfig)
		return nil
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if opts.validate {
		fmt.Printf("config ok port=%s\n", cfg.Serial.Device)
		return nil
	}

	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logging.Close()

	deps, closeHost := openHost(cfg)
	defer closeHost()

	svc, err := engine.NewService(cfg.Service, deps, func() (transport.Port, error) {
		return transport.OpenSerial(cfg.Serial)
	})
	if err != nil {
		return err
	}
	log.Info().Msgf("ibusctl starting port=%s monitor=%t", cfg.Serial.Device, cfg.Service.MonitorEnabled)
	return svc.Run()
}

func setupLogging(cfg config.Daemon) error {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	}
	lc.File = cfg.LogFile
	logging.ApplyEnv(&lc)
	return logging.Install(lc)
}

// openHost opens the optional host devices. A device that cannot be opened
// is replaced by its no-op stand-in.
func openHost(cfg config.Daemon) (engine.Deps, func()) {
	runner := tools.ExecRunner{Timeout: 10 * time.Second}
	var closers []func() error

	var keyboard host.Keyboard = host.NopKeyboard{}
	if cfg.Keyboard != "" {
		kb, err := host.OpenKeyboard(cfg.Keyboard, cfg.KeyboardName)
		if err != nil {
			log.Warn().Err(err).Msgf("ibusctl keyboard disabled device=%s", cfg.Keyboard)
		} else {
			keyboard = kb
			closers = append(closers, kb.Close)
		}
	}

	var sensor session.IdleSensor = host.AlwaysIdle{}
	if cfg.GPIODevice != "" {
		g, err := host.OpenGPIO(cfg.GPIODevice, cfg.GPIOPin)
		if err != nil {
			log.Warn().Err(err).Msgf("ibusctl bus sense disabled device=%s pin=%d", cfg.GPIODevice, cfg.GPIOPin)
		} else {
			sensor = g
			closers = append(closers, g.Close)
		}
	}

	deps := engine.Deps{
		Keyboard: keyboard,
		Sensor:   sensor,
		Power: host.SystemPower{
			Runner:  runner,
			Command: cfg.PowerOffCommand,
			Flush:   logging.Close,
		},
		Clock: host.SystemClock{Runner: runner},
	}
	return deps, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Debug().Err(err).Msg("ibusctl close host device")
			}
		}
	}
}
