package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"yewchat/internal/config"
	"yewchat/internal/history"
	"yewchat/internal/logging"
	"yewchat/internal/server"
)

var (
	// Serve flags
	serveAddr string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat hub",
	Long: `Starts the WebSocket hub: one room, message history replayed to joining
clients, presence broadcasts and typing relay. Health endpoints live at
/healthz and /readyz, Prometheus metrics at /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "History database path (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDB != "" {
		cfg.Server.History.Path = serveDB
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, level, err := logging.New(cfg.Logging, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.Server.History.Path, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := server.New(cfg.Server, logger, store)
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	// The log level follows the config file while running. Other server
	// settings need a restart.
	watcher, err := config.NewWatcher(cfgPath, logger, func(next *config.Config) {
		if lvl, perr := zapcore.ParseLevel(next.Logging.Level); perr == nil {
			level.SetLevel(lvl)
		}
	})
	if err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	} else {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	return g.Wait()
}
