package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/ibusctl/internal/annotate"
	"github.com/danmuck/ibusctl/internal/monitor"
	"github.com/danmuck/ibusctl/internal/protocol/frame"
)

var errRejected = errors.New("ibussend: frame rejected")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ibussend: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ibussend", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", monitor.DefaultAddr, "ibusctl monitor address")
	watch := fs.Bool("watch", false, "print bus traffic until interrupted")
	raw := fs.Bool("raw", false, "print monitor lines without annotation")
	wait := fs.Duration("wait", 300*time.Millisecond, "how long to wait for a rejection after sending")
	fs.Usage = func() {
		fmt.Fprintln(out, "usage: ibussend [flags] [hex-frame ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	frames := make([]frame.Frame, 0, fs.NArg())
	for _, arg := range fs.Args() {
		f, err := monitor.ParseTX(arg)
		if err != nil {
			return fmt.Errorf("frame %q: %w", arg, err)
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 && !*watch {
		fs.Usage()
		return errors.New("nothing to send")
	}

	conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	w := bufio.NewWriter(conn)
	for _, f := range frames {
		fmt.Fprintf(w, "tx %s\n", f.Hex())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !*watch {
		_ = conn.SetReadDeadline(time.Now().Add(*wait))
	}

	rejected := 0
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "error") {
			rejected++
			fmt.Fprintln(out, line)
			continue
		}
		if *watch {
			fmt.Fprintln(out, formatLine(line, *raw))
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", errRejected, rejected, len(frames))
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !isTimeout(err) {
		return err
	}
	return nil
}

// formatLine annotates "rx <hex>" and "tx <hex>" lines.
func formatLine(line string, raw bool) string {
	dir, hex, ok := strings.Cut(line, " ")
	if raw || !ok || (dir != "rx" && dir != "tx") {
		return line
	}
	f, err := frame.Parse(hex)
	if err != nil {
		return line
	}
	return dir + " " + annotate.Line(f)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
