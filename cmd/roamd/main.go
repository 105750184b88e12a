//go:build linux

// Command roamd drives firmware roam offload for the station interfaces of
// the host.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomiamao/roam"
	"github.com/tomiamao/roam/internal/daemon"
)

func main() {
	interval := flag.Duration("interval", 2*time.Second, "link poll interval")
	debug := flag.Bool("debug", false, "log every command")
	flag.Parse()

	cfg, err := roam.ParseEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *interval, logger); err != nil {
		log.Fatalf("roamd: %v", err)
	}
}

func run(ctx context.Context, cfg roam.Config, interval time.Duration, logger *slog.Logger) error {
	fw, err := roam.Dial()
	if err != nil {
		return err
	}
	defer fw.Close()

	links, err := roam.NewLinkRegistry()
	if err != nil {
		return err
	}
	defer links.Close()

	if ids, err := links.Stations(); err == nil && len(ids) > 0 {
		ok, err := fw.SupportsRoamOffload(ids[0])
		if err == nil && !ok {
			logger.Warn("firmware lacks roam offload; roaming stays disabled")
			cfg.RSOAllowed = false
		}
	}

	m := roam.NewMachine(fw, roam.NewPolicyOracle(cfg.Capabilities()), links, cfg, roam.WithLogger(logger))

	events, err := fw.Completions(ctx)
	if err != nil {
		logger.Warn("completions unavailable", slog.String("err", err.Error()))
	} else {
		go daemon.Forward(m, events)
	}

	return daemon.NewSupervisor(m, links, cfg.DefaultTriggers, logger).Run(ctx, interval)
}
