package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/njoerd114/itemrelay/internal/config"
	syncp "github.com/njoerd114/itemrelay/internal/sync"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Run the stream listener and periodic resync until stopped",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(slog.LevelInfo)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		bootstrap := syncp.NewBootstrap(a.engine, a.log, cmd.OutOrStdout())
		if _, err := bootstrap.Run(ctx); err != nil {
			// Pending local work still gets replayed once the server is back.
			a.log.Warn("first-run pull failed", "error", err)
		}

		resync := syncp.NewResync(a.engine, nil, a.log)
		sched := syncp.NewScheduler(resync, a.cfg.ResyncInterval, a.log)
		a.engine.OnReconnect(sched.Trigger)

		control := make(chan os.Signal, 1)
		signal.Notify(control, syscall.SIGHUP, syscall.SIGUSR1)
		defer signal.Stop(control)

		a.log.Info("daemon starting",
			"server_url", a.cfg.ServerURL,
			"resync_interval", a.cfg.ResyncInterval,
		)

		var wg sync.WaitGroup
		errs := make(chan error, 3)
		run := func(name string, fn func(context.Context) error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- fmt.Errorf("%s: %w", name, err)
					stop()
				}
			}()
		}
		run("resync scheduler", sched.Run)
		run("event stream", a.engine.RunStream)
		run("control signals", func(ctx context.Context) error {
			return controlLoop(ctx, control, a, sched.Trigger)
		})
		wg.Wait()
		close(errs)

		var all []error
		for err := range errs {
			all = append(all, err)
		}
		a.log.Info("shutdown complete")
		return errors.Join(all...)
	},
}

var resyncCmd = &cobra.Command{
	Use:     "resync",
	Short:   "Replay pending local changes against the server once",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.close()

		outcome, stats := syncp.NewResync(a.engine, nil, a.log).Run(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Resync %s: %d pending, %d synced, %d failed\n",
			outcome, stats.Pending, stats.Succeeded, stats.Failed)
		if outcome != syncp.OutcomeSuccess {
			return fmt.Errorf("resync did not complete (outcome %s)", outcome)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	Short:   "Replace local synced items with the server's list",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.engine.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pulled %d items from %s\n", n, a.cfg.ServerURL)
		return nil
	},
}

// controlLoop serves the daemon's control signals until ctx ends: SIGHUP
// re-reads the access token, SIGUSR1 requests a resync.
func controlLoop(ctx context.Context, sigs <-chan os.Signal, a *app, trigger func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if a.reloadToken() {
					// Pushes rejected with the old token are still pending.
					trigger()
				}
			case syscall.SIGUSR1:
				a.log.Debug("resync requested")
				trigger()
			}
		}
	}
}

// reloadToken re-reads the config and installs a changed token. It reports
// whether the token changed.
func (a *app) reloadToken() bool {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		a.log.Error("reloading config", "error", err)
		return false
	}
	if cfg.Token == a.cfg.Token {
		a.log.Info("config reloaded, token unchanged")
		return false
	}
	a.cfg.Token = cfg.Token
	a.engine.SetToken(cfg.Token)
	a.log.Info("access token replaced")
	return true
}

func init() {
	rootCmd.AddCommand(daemonCmd, resyncCmd, refreshCmd)
}
