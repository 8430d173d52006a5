// Command oroctl boots an Oro system and drives it from an interactive
// console running as a user thread on the root ring.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	tty "github.com/mattn/go-tty"
	"golang.org/x/sync/errgroup"

	"oro/app"
	"oro/hal"
	"oro/internal/buildinfo"
)

// lineReader yields console input one line at a time.
type lineReader interface {
	readLine(prompt string) (string, error)
	close() error
}

type ttyReader struct {
	t *tty.TTY
}

func (r ttyReader) readLine(prompt string) (string, error) {
	fmt.Fprint(r.t.Output(), prompt)
	return r.t.ReadString()
}

func (r ttyReader) close() error { return r.t.Close() }

type scanReader struct {
	s *bufio.Scanner
}

func (r scanReader) readLine(string) (string, error) {
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.s.Text(), nil
}

func (scanReader) close() error { return nil }

func openInput() (lineReader, error) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		t, err := tty.Open()
		if err != nil {
			return nil, err
		}
		return ttyReader{t: t}, nil
	}
	return scanReader{s: bufio.NewScanner(os.Stdin)}, nil
}

type request struct {
	line  string
	reply chan error
}

// consoleProgram executes requests until the channel closes.
func consoleProgram(reqs <-chan request, out io.Writer) app.Program {
	return func(sys *app.Sys) error {
		c := &console{sys: sys, out: out}
		for req := range reqs {
			req.reply <- c.exec(req.line)
		}
		return nil
	}
}

func main() {
	var (
		hostCfg hal.HostConfig
		appCfg  app.Config
		hz      int
		version bool
	)
	flag.Uint64Var(&hostCfg.MemoryBytes, "memory", 16<<20, "Simulated physical memory in bytes.")
	flag.StringVar(&hostCfg.LogLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error).")
	flag.IntVar(&appCfg.Cores, "cores", 2, "Number of simulated cores.")
	flag.IntVar(&hz, "hz", 1000, "Timer tick rate.")
	flag.BoolVar(&version, "version", false, "Print the build version and exit.")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.Long())
		return
	}
	if err := run(hostCfg, appCfg, hz); err != nil {
		fmt.Fprintln(os.Stderr, "oroctl:", err)
		os.Exit(1)
	}
}

func run(hostCfg hal.HostConfig, appCfg app.Config, hz int) error {
	in, err := openInput()
	if err != nil {
		return err
	}
	defer in.close()

	reqs := make(chan request)
	appCfg.Programs = append(appCfg.Programs, app.ProgramSpec{Name: "console", Main: consoleProgram(reqs, os.Stdout)})

	h := hal.NewHost(hostCfg)
	sys, err := app.Boot(h, appCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sys.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return hal.RunHeadless(ctx, h, sys.Step, hal.HeadlessConfig{Hz: hz})
	})
	// Outside the group: a blocked terminal read must not hold up shutdown.
	readErr := make(chan error, 1)
	go func() {
		defer close(reqs)
		readErr <- readLoop(ctx, in, reqs)
	}()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}

// readLoop feeds lines to the console thread until EOF or quit.
func readLoop(ctx context.Context, in lineReader, reqs chan<- request) error {
	fmt.Printf("oro %s (type help)\n", buildinfo.Short())
	for {
		line, err := in.readLine("oro> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		reply := make(chan error, 1)
		select {
		case reqs <- request{line: line, reply: reply}:
		case <-ctx.Done():
			return nil
		}
		select {
		case err = <-reply:
		case <-ctx.Done():
			return nil
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
