// Command urpmd is the long-running daemon process: it serves the HTTP API
// of spec.md §6, announces and discovers LAN peers, and drives the
// scheduler's periodic media refresh and cache/peer sweeps (spec.md §4.5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/urpm-project/urpm/catalog"
	"github.com/urpm-project/urpm/config"
	"github.com/urpm-project/urpm/daemon"
	"github.com/urpm-project/urpm/internal/logctx"
	"github.com/urpm-project/urpm/internal/rpm"
	"github.com/urpm-project/urpm/internal/rpmexec"
	"github.com/urpm-project/urpm/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a urpmd YAML config file")
	distroRelease := flag.String("distro-release", "cooker", "distro release string announced to peers")
	flag.Parse()

	slog.SetDefault(slog.New(logctx.WrapHandler(slog.NewTextHandler(os.Stderr, nil))))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Bootstrap(ctx, nil, "urpmd")
	if err != nil {
		slog.Error("bootstrapping tracing", "error", err)
		return 1
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("shutting down tracer provider", "error", err)
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		return 1
	}

	store, err := catalog.Open(ctx, cfg.CatalogPath)
	if err != nil {
		slog.Error("opening catalog", "path", cfg.CatalogPath, "error", err)
		return 1
	}
	defer store.Close()

	installed := rpm.Installed{Root: cfg.Root}
	d := daemon.New(cfg, store, installed, new(rpmexec.Stub), *distroRelease, runtime.GOARCH)

	srv := &http.Server{
		Addr:        cfg.Daemon.Addr,
		Handler:     daemon.NewHandler(d),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Discovery.Run(gctx, cfg.Peer.AnnounceInterval) })
	g.Go(func() error { return daemon.NewScheduler(d).Start(gctx) })
	g.Go(func() error {
		slog.InfoContext(gctx, "starting http server", "addr", cfg.Daemon.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("urpmd exited", "error", err)
		return 1
	}
	return 0
}
