package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/njoerd114/itemrelay/internal/config"
	"github.com/njoerd114/itemrelay/internal/model"
	"github.com/njoerd114/itemrelay/internal/setup"
	"github.com/njoerd114/itemrelay/internal/state"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger(slog.LevelWarn)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		paths, err := setup.UserPaths()
		if err != nil {
			return err
		}
		paths.Config = cfgPath

		wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), logger, paths)
		return wiz.Run(ctx)
	},
}

// Replaced in tests.
var (
	checkServer  = setup.CheckServer
	reloadDaemon = setup.ReloadDaemon
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Replace the access token in the config",
	Long: `Verifies a new access token against the configured server and saves it.
A running daemon is told to pick the token up without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger(slog.LevelWarn)
		w := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config from %q: %w\n\nRun 'itemrelay setup' to create one", cfgPath, err)
		}

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = setup.NewPrompter(cmd.InOrStdin(), w).Secret("Access token")
			if token == "" {
				return fmt.Errorf("no token entered")
			}
		}

		count, err := checkServer(cmd.Context(), cfg.ServerURL, token, logger)
		if err != nil {
			return fmt.Errorf("token rejected by %s: %w", cfg.ServerURL, err)
		}
		ok(w, fmt.Sprintf("Token accepted (%d items on the server)", count))

		cfg.Token = token
		if err := cfg.Write(cfgPath); err != nil {
			return err
		}
		ok(w, "Config updated: "+cfgPath)

		if daemonActive() {
			if err := reloadDaemon(); err != nil {
				warn(w, fmt.Sprintf("could not signal the service (%v); restart it to use the new token", err))
				return nil
			}
			ok(w, "Running service picked up the new token")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service, config, and local store state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		newLogger(slog.LevelWarn)
		printStatus(cmd)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete every local item, including unsynced changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.store.CountByStatus(cmd.Context())
		if err != nil {
			return err
		}
		unsynced := 0
		for s, n := range counts {
			if s.IsPending() {
				unsynced += n
			}
		}
		if force, _ := cmd.Flags().GetBool("force"); unsynced > 0 && !force {
			return fmt.Errorf("%d local changes have not reached the server; run 'itemrelay resync' first or pass --force", unsynced)
		}

		if err := a.engine.DeleteAll(cmd.Context()); err != nil {
			return err
		}
		ok(cmd.OutOrStdout(), "Local store cleared")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop the service and remove installed files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		purge, _ := cmd.Flags().GetBool("purge")
		w := cmd.OutOrStdout()

		paths, err := setup.UserPaths()
		if err != nil {
			return err
		}

		fmt.Fprintln(w, "Uninstalling itemrelay...")

		step := func(done string, err error) {
			if err != nil {
				warn(w, err.Error())
				return
			}
			ok(w, done)
		}
		step("Service stopped", setup.DisableDaemon(paths))
		step("Unit removed", setup.RemoveUnit(paths))
		step("Binary removed", setup.RemoveBinary(paths))

		if purge {
			step("Config, item store, and logs purged", setup.PurgeUserData(paths))
		} else {
			fmt.Fprintln(w, "")
			fmt.Fprintln(w, "  Config and item store preserved.")
			fmt.Fprintln(w, "  Run with --purge to also remove them:")
			fmt.Fprintln(w, "    itemrelay uninstall --purge")
		}

		fmt.Fprintln(w, "")
		ok(w, "itemrelay uninstalled.")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "new access token (prompted when omitted)")
	logoutCmd.Flags().Bool("force", false, "discard unsynced local changes")
	uninstallCmd.Flags().Bool("purge", false, "also remove config, item store, and logs")
	rootCmd.AddCommand(setupCmd, loginCmd, statusCmd, logoutCmd, uninstallCmd)
}

// printStatus reports service, config, and store state. Each section degrades
// to a short note instead of failing the command.
func printStatus(cmd *cobra.Command) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, headerStyle.Render("itemrelay status"))
	fmt.Fprintln(w, "────────────────")

	if setup.IsDaemonActive() {
		fmt.Fprintf(w, "  Service:   %s\n", syncedStyle.Render("running (systemd --user)"))
	} else {
		fmt.Fprintf(w, "  Service:   %s\n", mutedStyle.Render("not running"))
	}

	dbPath, _ := state.DefaultDBPath()
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintf(w, "  Config:    not found (%s)\n", cfgPath)
	} else if cfg, loadErr := config.Load(cfgPath); loadErr != nil {
		fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
	} else {
		dbPath = cfg.DBPath
		fmt.Fprintf(w, "  Config:    %s ✓\n", cfgPath)
		fmt.Fprintf(w, "  Server:    %s\n", cfg.ServerURL)
		fmt.Fprintf(w, "  Stream:    %s\n", cfg.StreamURL)
		fmt.Fprintf(w, "  Resync:    every %s\n", cfg.ResyncInterval)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Fprintf(w, "  Store:     not found\n")
		return
	}
	fmt.Fprintf(w, "  Store:     %s (%s)\n", dbPath, humanSize(info.Size()))

	store, err := state.Open(dbPath)
	if err != nil {
		fmt.Fprintf(w, "  Items:     unavailable (%v)\n", err)
		return
	}
	defer store.Close()

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		fmt.Fprintf(w, "  Items:     unavailable (%v)\n", err)
		return
	}
	printCounts(w, counts)
}

// printCounts writes one line per sync status, synced first.
func printCounts(w io.Writer, counts map[model.SyncStatus]int) {
	statuses := make([]model.SyncStatus, 0, len(counts))
	total := 0
	for s, n := range counts {
		statuses = append(statuses, s)
		total += n
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	fmt.Fprintf(w, "  Items:     %d\n", total)
	for _, s := range statuses {
		fmt.Fprintf(w, "    %-16s %d\n", statusLabel(s), counts[s])
	}
}
