// Package installer registers the hostsmanager helper as an OS service.
package installer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
)

const (
	// GroupGID is the GID used when creating the socket group on macOS.
	GroupGID = 850

	ServiceLabel    = "com.hostsmanager.helper"
	ServiceUnit     = "hostsmanager.service"
	LaunchDaemonDir = "/Library/LaunchDaemons"
	SystemdDir      = "/etc/systemd/system"
)

// LaunchDaemonPlist is the macOS LaunchDaemon plist template.
const LaunchDaemonPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%[1]s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%[2]s</string>
        <string>daemon</string>
        <string>--config</string>
        <string>%[3]s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%[4]s/helper.log</string>
    <key>StandardErrorPath</key>
    <string>%[4]s/helper.err</string>
</dict>
</plist>
`

// SystemdUnit is the Linux systemd unit template.
const SystemdUnit = `[Unit]
Description=hostsmanager privileged hosts file helper
After=network.target

[Service]
Type=simple
ExecStart=%[1]s daemon --config %[2]s
Restart=always
RestartSec=5
User=root
Group=root

[Install]
WantedBy=multi-user.target
`

// Runner executes an external command and returns its combined output.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	// #nosec G204 -- commands and arguments come from this package
	return exec.Command(name, args...).CombinedOutput()
}

// Installer handles installation and uninstallation.
type Installer struct {
	binaryPath string
	configPath string
	settings   config.Settings
	goos       string
	run        Runner
	geteuid    func() int
	out        io.Writer
	log        zerolog.Logger

	launchDaemonDir string
	systemdDir      string
	socketAttempts  uint
	socketDelay     time.Duration
}

// Option configures an Installer.
type Option func(*Installer)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(i *Installer) { i.run = r }
}

// WithOutput sends progress messages to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(i *Installer) { i.out = w }
}

// New creates an installer for the running executable. The helper will be
// started with the config file at configPath.
func New(configPath string, settings config.Settings, opts ...Option) (*Installer, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	i := &Installer{
		binaryPath:      binaryPath,
		configPath:      configPath,
		settings:        settings,
		goos:            runtime.GOOS,
		run:             execRunner,
		geteuid:         os.Geteuid,
		out:             os.Stdout,
		log:             log.With().Str("component", "installer").Logger(),
		launchDaemonDir: LaunchDaemonDir,
		systemdDir:      SystemdDir,
		socketAttempts:  10,
		socketDelay:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Install creates the socket group, the helper's directories and config,
// registers the service and waits for the helper socket to appear.
func (i *Installer) Install() error {
	if i.geteuid() != 0 {
		return fmt.Errorf("install requires sudo")
	}

	i.say("Installing hostsmanager helper...")

	if err := i.createGroup(); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	if err := i.addCurrentUserToGroup(); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}
	if err := i.createDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := i.createSystemConfig(); err != nil {
		return fmt.Errorf("failed to create system config: %w", err)
	}

	switch i.goos {
	case "darwin":
		if err := i.installLaunchDaemon(); err != nil {
			return fmt.Errorf("failed to install LaunchDaemon: %w", err)
		}
	case "linux":
		if err := i.installSystemdService(); err != nil {
			return fmt.Errorf("failed to install systemd service: %w", err)
		}
	default:
		return fmt.Errorf("unsupported OS: %s", i.goos)
	}

	if err := i.waitForSocket(); err != nil {
		return fmt.Errorf("helper did not start: %w", err)
	}

	i.say("")
	i.say("Installed successfully.")
	i.say("Open a new terminal so the group membership takes effect.")
	return nil
}

// Uninstall stops and unregisters the service. Backups, logs and the group
// are left in place.
func (i *Installer) Uninstall() error {
	if i.geteuid() != 0 {
		return fmt.Errorf("uninstall requires sudo")
	}

	i.say("Uninstalling hostsmanager helper...")

	switch i.goos {
	case "darwin":
		i.uninstallLaunchDaemon()
	case "linux":
		i.uninstallSystemdService()
	}

	_ = os.Remove(i.settings.SocketPath)

	i.say("")
	i.say("Uninstalled. Backups in %s and the %s group were preserved.", i.settings.BackupDir, i.settings.SocketGroup)
	return nil
}

func (i *Installer) say(format string, args ...any) {
	if i.out != nil {
		fmt.Fprintf(i.out, format+"\n", args...)
	}
}

func (i *Installer) createGroup() error {
	group := i.settings.SocketGroup
	switch i.goos {
	case "darwin":
		if _, err := i.run("dscl", ".", "-read", "/Groups/"+group); err == nil {
			i.say("  Group '%s' already exists", group)
			return nil
		}
		i.say("  Creating group '%s' (GID %d)...", group, GroupGID)
		cmds := [][]string{
			{"dscl", ".", "-create", "/Groups/" + group},
			{"dscl", ".", "-create", "/Groups/" + group, "PrimaryGroupID", strconv.Itoa(GroupGID)},
			{"dscl", ".", "-create", "/Groups/" + group, "RealName", "hostsmanager users"},
		}
		for _, args := range cmds {
			if out, err := i.run(args[0], args[1:]...); err != nil {
				return fmt.Errorf("command %v failed: %w (output: %s)", args, err, out)
			}
		}
		return nil
	case "linux":
		if _, err := i.run("getent", "group", group); err == nil {
			i.say("  Group '%s' already exists", group)
			return nil
		}
		i.say("  Creating group '%s'...", group)
		if out, err := i.run("groupadd", "-r", group); err != nil {
			return fmt.Errorf("groupadd failed: %w (output: %s)", err, out)
		}
		return nil
	default:
		return fmt.Errorf("unsupported OS: %s", i.goos)
	}
}

// invokingUser returns the user behind sudo, falling back to the current user.
func invokingUser() (string, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return u.Username, nil
}

func (i *Installer) addCurrentUserToGroup() error {
	username, err := invokingUser()
	if err != nil {
		return err
	}
	if username == "root" {
		i.say("  Skipping adding root to group")
		return nil
	}

	group := i.settings.SocketGroup
	var check, add []string
	switch i.goos {
	case "darwin":
		check = []string{"dscl", ".", "-read", "/Groups/" + group, "GroupMembership"}
		add = []string{"dscl", ".", "-append", "/Groups/" + group, "GroupMembership", username}
	case "linux":
		check = []string{"id", "-nG", username}
		add = []string{"usermod", "-aG", group, username}
	default:
		return fmt.Errorf("unsupported OS: %s", i.goos)
	}

	needle := group
	if i.goos == "darwin" {
		needle = username
	}
	if out, err := i.run(check[0], check[1:]...); err == nil && containsField(string(out), needle) {
		i.say("  User '%s' already in group '%s'", username, group)
		return nil
	}

	i.say("  Adding user '%s' to group '%s'...", username, group)
	if out, err := i.run(add[0], add[1:]...); err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", add[0], err, out)
	}
	return nil
}

func containsField(s, field string) bool {
	for _, f := range strings.Fields(s) {
		if f == field {
			return true
		}
	}
	return false
}

func (i *Installer) createDirectories() error {
	dirs := []string{i.settings.BackupDir, filepath.Dir(i.configPath)}
	if i.settings.AuditLogPath != "" {
		dirs = append(dirs, filepath.Dir(i.settings.AuditLogPath))
	}

	for _, dir := range dirs {
		i.say("  Creating directory '%s'...", dir)
		// #nosec G301 -- system directories should be world-readable
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (i *Installer) createSystemConfig() error {
	if _, err := os.Stat(i.configPath); err == nil {
		i.say("  Config already exists at %s", i.configPath)
		return nil
	}

	i.say("  Creating config at %s...", i.configPath)
	return config.CreateDefault(i.configPath)
}

// RenderLaunchDaemon returns the plist for the helper at binaryPath.
func RenderLaunchDaemon(binaryPath, configPath, logDir string) string {
	return fmt.Sprintf(LaunchDaemonPlist, ServiceLabel, binaryPath, configPath, logDir)
}

// RenderSystemdUnit returns the unit file for the helper at binaryPath.
func RenderSystemdUnit(binaryPath, configPath string) string {
	return fmt.Sprintf(SystemdUnit, binaryPath, configPath)
}

func (i *Installer) logDir() string {
	if i.settings.AuditLogPath != "" {
		return filepath.Dir(i.settings.AuditLogPath)
	}
	return "/var/log"
}

func (i *Installer) installLaunchDaemon() error {
	plistPath := filepath.Join(i.launchDaemonDir, ServiceLabel+".plist")
	target := "system/" + ServiceLabel

	i.say("  Stopping existing helper if running...")
	_, _ = i.run("launchctl", "bootout", target)
	_ = os.Remove(plistPath)

	i.say("  Writing LaunchDaemon plist...")
	// #nosec G306 -- plist files are world-readable by convention
	if err := os.WriteFile(plistPath, []byte(RenderLaunchDaemon(i.binaryPath, i.configPath, i.logDir())), 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}

	i.say("  Starting helper...")
	// launchd may still be tearing down the previous instance.
	err := retry.Do(
		func() error {
			out, err := i.run("launchctl", "bootstrap", "system", plistPath)
			if err == nil {
				return nil
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 5 {
				// Already loaded.
				if _, err := i.run("launchctl", "kickstart", "-k", target); err != nil {
					return fmt.Errorf("failed to restart helper: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to bootstrap helper: %w (output: %s)", err, out)
		},
		retry.Attempts(3),
		retry.Delay(i.socketDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			i.log.Warn().Err(err).Uint("attempt", attempt).Msg("launchctl bootstrap failed, retrying")
		}),
	)
	return err
}

func (i *Installer) uninstallLaunchDaemon() {
	i.say("  Stopping helper...")
	_, _ = i.run("launchctl", "bootout", "system/"+ServiceLabel)

	i.say("  Removing LaunchDaemon plist...")
	_ = os.Remove(filepath.Join(i.launchDaemonDir, ServiceLabel+".plist"))
}

func (i *Installer) installSystemdService() error {
	unitPath := filepath.Join(i.systemdDir, ServiceUnit)

	i.say("  Writing systemd unit...")
	// #nosec G306 -- systemd unit files are world-readable by convention
	if err := os.WriteFile(unitPath, []byte(RenderSystemdUnit(i.binaryPath, i.configPath)), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	i.say("  Reloading systemd...")
	if out, err := i.run("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w (output: %s)", err, out)
	}

	i.say("  Enabling and starting service...")
	if out, err := i.run("systemctl", "enable", "--now", ServiceUnit); err != nil {
		return fmt.Errorf("failed to enable service: %w (output: %s)", err, out)
	}
	return nil
}

func (i *Installer) uninstallSystemdService() {
	i.say("  Stopping and disabling service...")
	_, _ = i.run("systemctl", "disable", "--now", ServiceUnit)

	i.say("  Removing systemd unit...")
	_ = os.Remove(filepath.Join(i.systemdDir, ServiceUnit))

	_, _ = i.run("systemctl", "daemon-reload")
}

// waitForSocket polls until the helper has created its socket.
func (i *Installer) waitForSocket() error {
	i.say("  Waiting for helper socket %s...", i.settings.SocketPath)
	return retry.Do(
		func() error { return socketReady(i.settings.SocketPath) },
		retry.Attempts(i.socketAttempts),
		retry.Delay(i.socketDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			i.log.Debug().Err(err).Uint("attempt", attempt).Msg("Helper socket not ready")
		}),
	)
}

func socketReady(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s is not a socket", path)
	}
	return nil
}

// CheckInstallation reports why the current user cannot reach the helper,
// or nil when the socket exists and the user is in the socket group.
func CheckInstallation(settings config.Settings) error {
	if err := socketReady(settings.SocketPath); err != nil {
		return fmt.Errorf("helper not running (socket %s unavailable)", settings.SocketPath)
	}

	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	if u.Uid == "0" {
		return nil
	}

	groups, err := u.GroupIds()
	if err != nil {
		return fmt.Errorf("failed to get user groups: %w", err)
	}
	for _, gid := range groups {
		g, err := user.LookupGroupId(gid)
		if err != nil {
			continue
		}
		if g.Name == settings.SocketGroup {
			return nil
		}
	}

	return fmt.Errorf("user '%s' is not in group '%s'. Run 'sudo hostsmanager install' and open a new terminal", u.Username, settings.SocketGroup)
}
