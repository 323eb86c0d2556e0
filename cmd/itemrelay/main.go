// itemrelay is a local-first item sync client. Items are written to a local
// SQLite store first and pushed to the item server in the background; server
// changes arrive over a WebSocket stream.
//
// Usage:
//
//	itemrelay setup                        # interactive first-run wizard
//	itemrelay login [--token <token>]      # replace the access token
//	itemrelay daemon [--config <path>]     # stream listener + periodic resync
//	itemrelay resync                       # replay pending items once
//	itemrelay refresh                      # pull the server's items
//	itemrelay list | add | edit | rm       # work with items
//	itemrelay status                       # show service, config, and store state
//	itemrelay logout                       # wipe the local store
//	itemrelay uninstall [--purge]          # stop the service and remove files
//	itemrelay version                      # print version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/itemrelay/internal/auth"
	"github.com/njoerd114/itemrelay/internal/config"
	"github.com/njoerd114/itemrelay/internal/remote"
	"github.com/njoerd114/itemrelay/internal/setup"
	"github.com/njoerd114/itemrelay/internal/state"
	"github.com/njoerd114/itemrelay/internal/stream"
	syncp "github.com/njoerd114/itemrelay/internal/sync"
	"github.com/njoerd114/itemrelay/internal/telemetry"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "itemrelay",
	Short:         "Local-first item sync client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultCfg, _ := config.DefaultPath()
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "items", Title: "Item Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "itemrelay", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Records go to stderr and, when
// telemetry is enabled, to the OTLP log exporter.
func newLogger(level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(telemetry.NewLogHandler(text, "itemrelay"))
	slog.SetDefault(logger)
	return logger
}

// app holds everything a command needs to talk to the store and the server.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *state.Store
	engine *syncp.Engine
	close  func()

	// deferred is set when a running daemon owns server pushes; mutations
	// stay pending locally and the daemon is woken to replay them.
	deferred bool
}

// daemonActive is replaced in tests.
var daemonActive = setup.IsDaemonActive

// openApp loads the config and wires the store, remote client, stream client,
// and engine. level is the minimum log level without --verbose. The returned
// app must be closed.
func openApp(level slog.Level) (*app, error) {
	return openAppWith(level, false)
}

// openMutationApp opens an app for add, edit, and rm. While the daemon runs
// it owns every push, so its leases cover the keys its stream will echo back.
func openMutationApp() (*app, error) {
	return openAppWith(slog.LevelWarn, daemonActive())
}

func openAppWith(level slog.Level, deferred bool) (*app, error) {
	logger := newLogger(level)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w\n\nRun 'itemrelay setup' to create one", cfgPath, err)
	}
	logger.Debug("config loaded",
		"server_url", cfg.ServerURL,
		"stream_url", cfg.StreamURL,
		"resync_interval", cfg.ResyncInterval,
	)

	shutdownTel := startTelemetry(cfg, logger)

	store, err := state.Open(cfg.DBPath)
	if err != nil {
		_ = shutdownTel(context.Background())
		return nil, fmt.Errorf("opening item store at %q: %w", cfg.DBPath, err)
	}
	logger.Debug("item store opened", "path", cfg.DBPath)

	tokens := auth.NewTokenSource(cfg.Token)
	rc := remote.New(cfg.ServerURL, tokens, logger)
	events := stream.NewWSClient(cfg.StreamURL, cfg.Token, logger)

	engine := syncp.NewEngine(store, rc, tokens, events, syncp.Options{
		SettleDelay:   cfg.SettleDelay,
		RemoteTimeout: cfg.RemoteTimeout,
		Deferred:      deferred,
	}, logger)

	return &app{
		cfg:      cfg,
		log:      logger,
		store:    store,
		engine:   engine,
		deferred: deferred,
		close: func() {
			if err := store.Close(); err != nil {
				logger.Error("closing item store", "error", err)
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTel(flushCtx); err != nil {
				logger.Error("telemetry shutdown error", "error", err)
			}
		},
	}, nil
}

// handOff wakes the daemon after a deferred mutation. A failed signal only
// delays the push until the next scheduled resync.
func (a *app) handOff() {
	if !a.deferred {
		return
	}
	if err := setup.WakeDaemon(); err != nil {
		a.log.Warn("waking daemon", "error", err)
	}
}

// startTelemetry enables OTel export when the config has a telemetry block.
// Failures are logged and the process continues without telemetry.
func startTelemetry(cfg *config.Config, logger *slog.Logger) telemetry.ShutdownFunc {
	noop := func(context.Context) error { return nil }
	if cfg.Telemetry == nil {
		return noop
	}
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		ServiceName:  cfg.Telemetry.ServiceName,
		Headers:      cfg.Telemetry.Headers,
		Version:      version,
	})
	if err != nil {
		logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		return noop
	}
	logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	return shutdown
}
