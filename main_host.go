package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sync/errgroup"

	"oro/app"
	"oro/hal"
	"oro/internal/buildinfo"
)

func main() {
	var (
		hostCfg  hal.HostConfig
		runCfg   hal.HeadlessConfig
		appCfg   app.Config
		programs string
		version  bool
	)
	flag.Uint64Var(&hostCfg.MemoryBytes, "memory", 16<<20, "Simulated physical memory in bytes.")
	flag.StringVar(&hostCfg.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error).")
	flag.IntVar(&appCfg.Cores, "cores", 2, "Number of simulated cores.")
	flag.Uint64Var(&appCfg.MaxTokenPages, "max-token-pages", 0, "Largest page allocation (0 = kernel default).")
	flag.IntVar(&runCfg.Hz, "hz", 1000, "Timer tick rate.")
	flag.Uint64Var(&runCfg.Ticks, "ticks", 0, "Stop after N ticks (0 = run until every program exits).")
	flag.StringVar(&programs, "programs", "hello,pagealloc,producer,consumer", "Comma separated programs to mount ("+strings.Join(app.BuiltinNames(), ", ")+").")
	flag.BoolVar(&version, "version", false, "Print the build version and exit.")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.Long())
		return
	}

	var err error
	if appCfg.Programs, err = app.Lookup(splitList(programs)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	h := hal.NewHost(hostCfg)
	h.Logger().Info("booting", "version", buildinfo.Short(), "cores", appCfg.Cores)
	sys, err := app.Boot(h, appCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sys.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return hal.RunHeadless(ctx, h, sys.Step, runCfg)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
