package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed unit.tmpl
var unitTemplateStr string

const (
	// BinaryName is the name of the installed binary.
	BinaryName = "itemrelay"

	// UnitName is the systemd user unit that runs the daemon.
	UnitName = "itemrelay.service"
)

// Paths groups every filesystem location the installer touches. All of them
// live under the user's home directory so no privileges are needed.
type Paths struct {
	Home string

	// Config overrides the default config location when set.
	Config string
}

// unitData holds template values for the systemd unit.
type unitData struct {
	BinaryPath string
	ConfigPath string
	LogDir     string
}

// BinaryPath returns ~/.local/bin/itemrelay.
func (p Paths) BinaryPath() string {
	return filepath.Join(p.Home, ".local", "bin", BinaryName)
}

// UnitPath returns ~/.config/systemd/user/itemrelay.service.
func (p Paths) UnitPath() string {
	return filepath.Join(p.Home, ".config", "systemd", "user", UnitName)
}

// ConfigPath returns Config, or ~/.config/itemrelay/config.yaml when unset.
func (p Paths) ConfigPath() string {
	if p.Config != "" {
		return p.Config
	}
	return filepath.Join(p.Home, ".config", BinaryName, "config.yaml")
}

// LogDir returns ~/.local/state/itemrelay.
func (p Paths) LogDir() string {
	return filepath.Join(p.Home, ".local", "state", BinaryName)
}

// DataDir returns ~/.local/share/itemrelay, which holds the item database.
func (p Paths) DataDir() string {
	return filepath.Join(p.Home, ".local", "share", BinaryName)
}

// UserPaths resolves Paths for the current user.
func UserPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolving home directory: %w", err)
	}
	return Paths{Home: home}, nil
}

// Systemctl runs a systemctl command. It is a variable so tests can capture
// invocations without a running user manager.
var Systemctl = func(args ...string) error {
	args = append([]string{"--user"}, args...)
	cmd := exec.Command("systemctl", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}

// InstallBinary copies the currently-running binary to ~/.local/bin.
func InstallBinary(p Paths) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving current executable path: %w", err)
	}

	// Resolve symlinks so we copy the actual binary.
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	dest := p.BinaryPath()
	if self == dest {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	return copyFile(self, dest, 0o755)
}

// RenderUnit renders the systemd unit from the embedded template.
func RenderUnit(p Paths) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(unitTemplateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing unit template: %w", err)
	}

	data := unitData{
		BinaryPath: p.BinaryPath(),
		ConfigPath: p.ConfigPath(),
		LogDir:     p.LogDir(),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteUnit writes the rendered unit to ~/.config/systemd/user/ and creates
// the log directory it appends to.
func WriteUnit(p Paths) error {
	unit, err := RenderUnit(p)
	if err != nil {
		return err
	}

	dest := p.UnitPath()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}
	if err := os.WriteFile(dest, unit, 0o644); err != nil {
		return fmt.Errorf("writing unit to %s: %w", dest, err)
	}

	if err := os.MkdirAll(p.LogDir(), 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", p.LogDir(), err)
	}
	return nil
}

// EnableDaemon reloads the user manager and starts the unit now and on login.
func EnableDaemon() error {
	if err := Systemctl("daemon-reload"); err != nil {
		return err
	}
	return Systemctl("enable", "--now", UnitName)
}

// DisableDaemon stops the unit and removes it from login startup. A missing
// unit file is not an error.
func DisableDaemon(p Paths) error {
	if _, err := os.Stat(p.UnitPath()); os.IsNotExist(err) {
		return nil // nothing to disable
	}
	return Systemctl("disable", "--now", UnitName)
}

// IsDaemonActive reports whether the unit is currently running.
func IsDaemonActive() bool {
	return Systemctl("is-active", "--quiet", UnitName) == nil
}

// ReloadDaemon asks a running daemon to re-read its config (SIGHUP).
func ReloadDaemon() error {
	return Systemctl("kill", "--signal=HUP", UnitName)
}

// WakeDaemon asks a running daemon to resync now (SIGUSR1).
func WakeDaemon() error {
	return Systemctl("kill", "--signal=USR1", UnitName)
}

// RemoveUnit deletes the unit file and reloads the user manager.
func RemoveUnit(p Paths) error {
	path := p.UnitPath()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing unit %s: %w", path, err)
	}
	return Systemctl("daemon-reload")
}

// RemoveBinary deletes the installed binary.
func RemoveBinary(p Paths) error {
	if err := os.Remove(p.BinaryPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", p.BinaryPath(), err)
	}
	return nil
}

// PurgeUserData removes config, the item database, and log files.
func PurgeUserData(p Paths) error {
	dirs := []string{
		filepath.Join(p.Home, ".config", BinaryName),
		p.DataDir(),
		p.LogDir(),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

// copyFile copies src to dst with the given permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return out.Close()
}
