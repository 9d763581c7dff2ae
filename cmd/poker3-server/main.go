package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/jewelpark/poker3/internal/auth"
	"github.com/jewelpark/poker3/internal/config"
	"github.com/jewelpark/poker3/internal/fanout"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
	"github.com/jewelpark/poker3/internal/server"
	"github.com/jewelpark/poker3/internal/store"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Config  string           `kong:"default='poker3.hcl',help='Path to the configuration file'"`
	Debug   bool             `kong:"help='Enable debug logging'"`
}

const (
	sweepInterval = 1 * time.Minute
	rankInterval  = 5 * time.Minute
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("poker3-server"),
		kong.Description("Real-time three-player card game server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cli.Debug, cfg.Server.LogLevel, cfg.Server.LogFile)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(runCtx, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(runCtx); err != nil {
		return err
	}
	if err := db.ClearGameTokens(runCtx); err != nil {
		return err
	}

	bus, err := fanout.Connect(cfg.Fanout.URL, cfg.Fanout.Subject, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	var validator auth.Validator
	if cfg.Game.DevAuth {
		logger.Warn("dev auth enabled, tokens are not checked")
		validator = auth.NewNoopValidator()
	} else {
		validator = auth.NewStoreValidator(db, store.ErrNotFound)
	}

	players := player.NewRegistry(db, logger)
	srv := server.New(server.Deps{
		Validator:   validator,
		Players:     players,
		Categories:  db,
		Tournaments: db,
		Fanout:      bus,
		Logger:      logger,
	})
	rooms := room.NewRegistry(room.Deps{
		Emitter: srv,
		Players: players,
		Store:   db,
		Clock:   quartz.NewReal(),
		Logger:  logger,
	})
	srv.SetRooms(rooms)

	if created, err := rooms.MaterializeTournaments(runCtx, cfg.Game.TournamentID); err != nil {
		logger.Error("tournament rooms unavailable", "err", err)
	} else if len(created) > 0 {
		logger.Info("tournament rooms ready", "count", len(created))
	}

	logger.Info("starting", "addr", cfg.ListenAddress(), "version", version)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.ListenAddress())
	})
	g.Go(func() error {
		return every(gctx, sweepInterval, func() {
			rooms.Sweep()
			rooms.BroadcastIdlePlayers()
		})
	})
	g.Go(func() error {
		return every(gctx, rankInterval, srv.BroadcastRanks)
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func every(ctx context.Context, d time.Duration, fn func()) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return nil
		}
	}
}

func setupLogger(debug bool, level, file string) *log.Logger {
	w := os.Stderr
	if file != "" {
		if f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		}
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
	})
	switch {
	case debug:
		logger.SetLevel(log.DebugLevel)
	default:
		if lvl, err := log.ParseLevel(level); err == nil {
			logger.SetLevel(lvl)
		}
	}
	return logger
}
