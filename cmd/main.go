package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking_barrier/internal/config"
	"parking_barrier/internal/handlers"
	"parking_barrier/internal/logger"
	"parking_barrier/internal/remote"
	"parking_barrier/internal/repository"
	"parking_barrier/internal/repository/db"
	"parking_barrier/internal/server"
	"parking_barrier/internal/service"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	v := config.New()
	cfg, err := config.Load(v)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.Get(cfg.LogLevel)
	if cfg.UsesDevSigningKey() {
		log.Warnw("auth_dev_signing_key_in_use", "hint", "set PARKING_AUTH_SIGNING_KEY")
	}
	// log.level applies live; every other key is read once at startup
	config.Watch(v, func(e fsnotify.Event, next config.Config, err error) {
		if err != nil {
			log.Warnw("config_reload_rejected", "file", e.Name, "err", err)
			return
		}
		log.SetLevel(next.LogLevel)
		log.Infow("config_reloaded", "file", e.Name, "op", e.Op.String(), "log_level", log.Level())
	})

	conn, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DBPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := finish(run(ctx, cfg, repository.NewRepository(conn), log), conn, log)
	stop()
	os.Exit(code)
}

// finish releases the database and maps the outcome of run to an exit code.
// os.Exit skips deferred calls, so the close happens here.
func finish(runErr error, conn io.Closer, log *logger.Logger) int {
	if err := conn.Close(); err != nil {
		log.Errorw("failed to close sqlite", "err", err)
	}
	if runErr != nil {
		log.Errorw("exited with error", "err", runErr)
		return 1
	}
	log.Infow("shutdown complete")
	return 0
}

func run(ctx context.Context, cfg config.Config, repos *repository.Repository, log *logger.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	// simulator mode: an in-process store plays the hardware and is served on /rtdb
	var (
		mem      *remote.MemoryStore
		rtdb     *remote.Server
		simStore remote.Store
	)
	if cfg.Simulator.Enabled {
		mem = remote.NewMemoryStore()
		rtdb = remote.NewServer(mem, log)
		simStore = mem
	}

	var source remote.Store = mem
	if cfg.Remote.URL != "" {
		client := remote.NewWSClient(cfg.Remote.URL, cfg.Remote.ReconnectDelay, log)
		g.Go(func() error { return client.Run(ctx) })
		source = client
	}

	commands, err := commandWriter(ctx, cfg, source)
	if err != nil {
		return err
	}

	services := service.NewService(service.Deps{
		Repos:    repos,
		Source:   source,
		Commands: commands,
		SimStore: simStore,
		Config:   cfg,
		Log:      log,
	})

	feed, err := services.Feed.Start(ctx)
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	defer services.Feed.Stop(feed)

	if services.Simulator != nil {
		g.Go(func() error {
			services.Simulator.Run(ctx, cfg.Simulator.Interval)
			return nil
		})
	}

	handler := handlers.NewHandler(services, log)
	if rtdb != nil {
		handler.WithRemoteStore(rtdb)
	}
	srv := server.New(cfg.Port, handler.InitRoutes())

	g.Go(func() error {
		log.Infow("http_server_started", "addr", srv.Addr(), "simulator", cfg.Simulator.Enabled, "command_backend", cfg.Command.Backend)
		return srv.Run()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Infow("shutting down server...")
		if rtdb != nil {
			rtdb.CloseAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// commandWriter picks where barrier commands go: the state store itself, or an AWS IoT topic.
func commandWriter(ctx context.Context, cfg config.Config, store remote.Writer) (remote.Writer, error) {
	if cfg.Command.Backend != config.CommandBackendIoT {
		return store, nil
	}
	client, err := remote.NewIoTDataClient(ctx, cfg.Command.IoTRegion, cfg.Command.IoTEndpoint)
	if err != nil {
		return nil, fmt.Errorf("iot client: %w", err)
	}
	return remote.NewIoTCommandWriter(client, cfg.Command.IoTTopicPrefix), nil
}
