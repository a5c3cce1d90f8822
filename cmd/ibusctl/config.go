package main

import (
	"flag"
	"io"
	"strings"

	"github.com/danmuck/ibusctl/internal/config"
)

type options struct {
	configPath  string
	port        string
	writeConfig string
	force       bool
	validate    bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ibusctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "path to the TOML config (defaults apply when empty)")
	fs.StringVar(&opts.port, "port", "", "serial device, overrides the config file")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write a config template to this path and exit")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing file with -write-config")
	fs.BoolVar(&opts.validate, "validate", false, "load and validate the config, then exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.port == "" && fs.NArg() > 0 {
		opts.port = fs.Arg(0)
	}
	return opts, nil
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(opts options) (config.Daemon, error) {
	cfg := config.DefaultDaemon()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Daemon{}, err
		}
		cfg = loaded
	}
	if port := strings.TrimSpace(opts.port); port != "" {
		cfg.Serial.Device = port
	}
	if rt := cfg.Service.Engine.Session.ReadTimeout; rt > 0 {
		cfg.Serial.ReadTimeout = rt
	}
	if err := config.Validate(cfg); err != nil {
		return config.Daemon{}, err
	}
	return cfg, nil
}
