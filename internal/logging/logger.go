package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	fileMu sync.Mutex
	file   *os.File
)

// Install replaces the global zerolog logger according to cfg.
func Install(cfg Config) error {
	w, err := newWriter(cfg)
	if err != nil {
		return err
	}
	ctx := zerolog.New(w).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	log.Logger = ctx.Logger()
	return nil
}

// Close flushes and closes the log file opened by Install, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return nil
	}
	_ = file.Sync()
	err := file.Close()
	file = nil
	return err
}

func newWriter(cfg Config) (io.Writer, error) {
	out := zerolog.ConsoleWriter{
		Out:        colorable.NewColorable(os.Stderr),
		NoColor:    cfg.NoColor || !isTerminal(os.Stderr),
		TimeFormat: "15:04:05.000",
	}
	if !cfg.Timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	if cfg.File == "" {
		return out, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	fileMu.Lock()
	if file != nil {
		_ = file.Close()
	}
	file = f
	fileMu.Unlock()
	out.Out = f
	out.NoColor = true
	return out, nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
