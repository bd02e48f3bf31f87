package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/webforge/internal/build"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/control"
	"github.com/mtzanidakis/webforge/internal/deploy"
	"github.com/mtzanidakis/webforge/internal/engine"
	"github.com/mtzanidakis/webforge/internal/janitor"
	"github.com/mtzanidakis/webforge/internal/llm"
	"github.com/mtzanidakis/webforge/internal/natsbus"
	"github.com/mtzanidakis/webforge/internal/pool"
	"github.com/mtzanidakis/webforge/internal/review"
	"github.com/mtzanidakis/webforge/internal/store"
	"github.com/mtzanidakis/webforge/internal/vfs"
	"github.com/mtzanidakis/webforge/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})))

	switch os.Args[1] {
	case "version":
		fmt.Printf("webforge %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "snapshot":
		if err := runSnapshot(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: webforge <command>\n\nCommands:\n  serve      Start the webforge gateway\n  snapshot   List or extract a trace snapshot archive\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting webforge gateway", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path, "sealed", cfg.Store.Passphrase != "")

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	nc, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	chain, err := llm.FromConfig(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}

	deployer := deploy.New(cfg.Deploy)
	if !deployer.Healthy(ctx) {
		slog.Warn("deploy service unreachable, deployments will fail until it is up", "url", cfg.Deploy.URL)
	}

	agents := pool.New(db, cfg.Pool)
	files := vfs.NewRegistry()
	deps := engine.Deps{
		Generator: chain,
		Builder:   build.New(cfg.Build),
		Publisher: deployer,
		Events:    nc,
		Store:     db,
	}
	if cfg.Review.Enabled {
		deps.Reviewer = review.New(chain, cfg.Review)
	}
	eng := engine.New(agents, pool.NewBus(agents, nc), files, deps, cfg.Engine)
	defer eng.Stop()

	n, err := eng.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	slog.Info("engine ready", "resumed", n)

	ctl := control.NewServer(nc, agents, eng, db, 0)
	if err := ctl.Start(); err != nil {
		return err
	}
	defer ctl.Close()

	jan := janitor.New(agents, files, nc, cfg.Janitor)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jan.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, config.Path(), cfg, func(next *config.Config, d config.ConfigDiff) {
			if d.PoolChanged {
				agents.UpdateConfig(d.NewPool)
			}
			if d.EngineChanged {
				eng.UpdateConfig(d.NewEngine)
			}
			if d.JanitorChanged {
				jan.UpdateConfig(d.NewJanitor)
			}
			for _, section := range d.NonReloadable {
				slog.Warn("config change requires restart", "section", section)
			}
		})
	})
	if cfg.Web.Enabled {
		srv := web.NewServer(agents, eng, db, files, nc, cfg.Web, version)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	err = g.Wait()
	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
