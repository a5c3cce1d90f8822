package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ibusctl/internal/engine"
	"github.com/danmuck/ibusctl/internal/host"
	"github.com/danmuck/ibusctl/internal/logging"
	"github.com/danmuck/ibusctl/internal/transport"
)

var ErrInvalid = errors.New("config: invalid")

// Daemon is everything ibusctl needs to start.
type Daemon struct {
	Service engine.ServiceConfig
	Serial  transport.Config

	// GPIODevice is the mapped GPIO block; empty disables bus-idle sensing.
	GPIODevice string
	GPIOPin    int
	// Keyboard is the uinput device; empty disables key injection.
	Keyboard        string
	KeyboardName    string
	LogLevel        string
	LogFile         string
	PowerOffCommand string
}

func DefaultDaemon() Daemon {
	return Daemon{
		Service:         engine.DefaultServiceConfig(),
		Serial:          transport.DefaultConfig(),
		GPIODevice:      "/dev/gpiomem",
		GPIOPin:         host.DefaultGPIOPin,
		Keyboard:        "/dev/uinput",
		KeyboardName:    host.DefaultKeyboardName,
		LogLevel:        "info",
		PowerOffCommand: "/sbin/poweroff",
	}
}

type fileConfig struct {
	Port            string `toml:"port"`
	GPIODevice      string `toml:"gpio_device"`
	GPIOPin         int    `toml:"gpio_pin"`
	Keyboard        string `toml:"keyboard"`
	IdleTimeout     string `toml:"idle_timeout"`
	PowerOffCommand string `toml:"poweroff_command"`
	CDCAnnounce     bool   `toml:"cdc_announce"`
	CDCInfoInterval string `toml:"cdc_info_interval"`
	Camera          bool   `toml:"camera"`
	Bluetooth       bool   `toml:"bluetooth"`
	HandleNextPrev  bool   `toml:"handle_nextprev"`
	RotaryOpposite  bool   `toml:"rotary_opposite"`
	ClockSync       bool   `toml:"clock_sync"`
	MonitorAddr     string `toml:"monitor_addr"`
	LogLevel        string `toml:"log_level"`
	LogFile         string `toml:"log_file"`
	Tick            string `toml:"tick"`
	EchoWaitTicks   int    `toml:"echo_wait_ticks"`
	MaxAttempts     int    `toml:"max_attempts"`
	MaxPending      int    `toml:"max_pending"`
}

// Load overlays the keys present in the file at path onto DefaultDaemon.
func Load(path string) (Daemon, error) {
	cfg := DefaultDaemon()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Daemon{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Daemon{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	if err := apply(meta, raw, &cfg); err != nil {
		return Daemon{}, err
	}
	if err := Validate(cfg); err != nil {
		return Daemon{}, err
	}
	return cfg, nil
}

func apply(meta toml.MetaData, raw fileConfig, cfg *Daemon) error {
	eng := &cfg.Service.Engine

	if meta.IsDefined("port") {
		cfg.Serial.Device = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("gpio_device") {
		cfg.GPIODevice = strings.TrimSpace(raw.GPIODevice)
	}
	if meta.IsDefined("gpio_pin") {
		cfg.GPIOPin = raw.GPIOPin
	}
	if meta.IsDefined("keyboard") {
		cfg.Keyboard = strings.TrimSpace(raw.Keyboard)
	}
	if meta.IsDefined("idle_timeout") {
		d, err := parseDuration("idle_timeout", raw.IdleTimeout)
		if err != nil {
			return err
		}
		eng.IdleTimeout = d
	}
	if meta.IsDefined("poweroff_command") {
		cfg.PowerOffCommand = strings.TrimSpace(raw.PowerOffCommand)
	}
	if meta.IsDefined("cdc_announce") {
		eng.Changer.Announce = raw.CDCAnnounce
	}
	if meta.IsDefined("cdc_info_interval") {
		d, err := parseDuration("cdc_info_interval", raw.CDCInfoInterval)
		if err != nil {
			return err
		}
		eng.Changer.InfoInterval = d
	}
	if meta.IsDefined("camera") {
		eng.Camera = raw.Camera
	}
	if meta.IsDefined("bluetooth") {
		eng.Bluetooth = raw.Bluetooth
	}
	if meta.IsDefined("handle_nextprev") {
		eng.HandleNextPrev = raw.HandleNextPrev
	}
	if meta.IsDefined("rotary_opposite") {
		eng.RotaryOpposite = raw.RotaryOpposite
	}
	if meta.IsDefined("clock_sync") {
		eng.ClockSync = raw.ClockSync
	}
	if meta.IsDefined("monitor_addr") {
		addr := strings.TrimSpace(raw.MonitorAddr)
		cfg.Service.Monitor.Addr = addr
		cfg.Service.MonitorEnabled = addr != ""
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("tick") {
		d, err := parseDuration("tick", raw.Tick)
		if err != nil {
			return err
		}
		eng.Session.Tick = d
	}
	if meta.IsDefined("echo_wait_ticks") {
		eng.Session.Arbiter.EchoWaitTicks = raw.EchoWaitTicks
	}
	if meta.IsDefined("max_attempts") {
		eng.Session.Arbiter.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("max_pending") {
		eng.Session.Arbiter.MaxPending = raw.MaxPending
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func Validate(cfg Daemon) error {
	eng := cfg.Service.Engine
	switch {
	case strings.TrimSpace(cfg.Serial.Device) == "":
		return fmt.Errorf("%w: port is required", ErrInvalid)
	case cfg.GPIODevice != "" && (cfg.GPIOPin < 0 || cfg.GPIOPin > 31):
		return fmt.Errorf("%w: gpio_pin %d out of range", ErrInvalid, cfg.GPIOPin)
	case eng.IdleTimeout < 0:
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalid)
	case eng.Changer.InfoInterval < 0:
		return fmt.Errorf("%w: cdc_info_interval must not be negative", ErrInvalid)
	case eng.Session.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive", ErrInvalid)
	case eng.Session.Arbiter.EchoWaitTicks <= 0:
		return fmt.Errorf("%w: echo_wait_ticks must be positive", ErrInvalid)
	case eng.Session.Arbiter.MaxAttempts <= 0:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalid)
	case eng.Session.Arbiter.MaxPending < 0:
		return fmt.Errorf("%w: max_pending must not be negative", ErrInvalid)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
	}
	return nil
}
