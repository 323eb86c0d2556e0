package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/itemrelay/internal/config"
)

// resyncChoices are the intervals offered in the wizard. The first entry is
// the default.
var resyncChoices = []struct {
	label    string
	interval time.Duration
}{
	{"every 5 minutes (recommended)", 5 * time.Minute},
	{"every minute", time.Minute},
	{"every 15 minutes", 15 * time.Minute},
	{"hourly", time.Hour},
}

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
	paths  Paths

	// check and install are replaced in tests.
	check   func(ctx context.Context, serverURL, token string, logger *slog.Logger) (int, error)
	install func(p Paths) error
}

// NewWizard creates a Wizard wired to the given I/O and logger. The config is
// written to paths.ConfigPath().
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger, paths Paths) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		paths:   paths,
		check:   CheckServer,
		install: installDaemon,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// server connection, the resync interval, config file creation, and optional
// daemon install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to itemrelay setup!\n")
	fmt.Fprintf(wiz.w, "This wizard will help you configure and install itemrelay.\n\n")

	cfgPath := wiz.paths.ConfigPath()
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: server connection.
	fmt.Fprintf(wiz.w, "Step 1/3: Server Connection\n")

	serverURL := wiz.prompt.String("Server URL", "", HTTPURL)
	token := wiz.prompt.Secret("Access token")

	fmt.Fprintf(wiz.w, "  Connecting to %s...", serverURL)
	count, err := wiz.check(ctx, serverURL, token, wiz.logger)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach server: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓ (%d items on the server)\n\n", count)

	// Step 2: resync interval.
	fmt.Fprintf(wiz.w, "Step 2/3: Resync Interval\n")

	labels := make([]string, len(resyncChoices))
	for i, c := range resyncChoices {
		labels[i] = c.label
	}
	idx, err := wiz.prompt.Select("How often should unsynced changes be retried?", labels)
	if err != nil {
		return fmt.Errorf("selecting resync interval: %w", err)
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: write config.
	fmt.Fprintf(wiz.w, "Step 3/3: Save Configuration\n")

	cfg := &config.Config{
		ServerURL:      serverURL,
		Token:          token,
		ResyncInterval: resyncChoices[idx].interval,
	}
	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	return wiz.offerDaemonInstall()
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall() error {
	if !wiz.prompt.Confirm("Install as background service (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping service install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: itemrelay daemon\n")
		fmt.Fprintf(wiz.w, "  Or install later with:     itemrelay setup\n\n")
		return nil
	}

	fmt.Fprintf(wiz.w, "\n")
	if err := wiz.install(wiz.paths); err != nil {
		return err
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed to %s\n", wiz.paths.BinaryPath())
	fmt.Fprintf(wiz.w, "  ✓ Service %s enabled and running\n", UnitName)

	fmt.Fprintf(wiz.w, "\nSetup complete! itemrelay is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", wiz.paths.ConfigPath())
	fmt.Fprintf(wiz.w, "  Logs:    %s\n", wiz.paths.LogDir())
	fmt.Fprintf(wiz.w, "  Status:  itemrelay status\n")
	fmt.Fprintf(wiz.w, "  Remove:  itemrelay uninstall\n\n")

	return nil
}

// installDaemon stops any running instance, then installs the binary and the
// unit and starts it.
func installDaemon(p Paths) error {
	if err := DisableDaemon(p); err != nil {
		return fmt.Errorf("stopping existing service: %w", err)
	}
	if err := InstallBinary(p); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	if err := WriteUnit(p); err != nil {
		return fmt.Errorf("writing unit: %w", err)
	}
	if err := EnableDaemon(); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}
	return nil
}
