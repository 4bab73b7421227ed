// Package main provides the entry point for the hostsmanager application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
	"github.com/lukaszraczylo/hostsmanager/internal/daemon"
	"github.com/lukaszraczylo/hostsmanager/internal/installer"
	"github.com/lukaszraczylo/hostsmanager/internal/ipc"
	"github.com/lukaszraczylo/hostsmanager/internal/logging"
	"github.com/lukaszraczylo/hostsmanager/internal/service"
	"github.com/lukaszraczylo/hostsmanager/internal/tui"
)

// appVersion is set at compile time via ldflags
var appVersion = "dev"

const connectTimeout = 5 * time.Second

type options struct {
	configPath string
	socketPath string
	logLevel   string
	jsonLogs   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.SystemConfigPath, "Path to config file")
	flag.StringVar(&opts.socketPath, "socket", "", "Helper socket path (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: error, warn, info or debug (overrides config)")
	flag.BoolVar(&opts.jsonLogs, "json", false, "Log as JSON")
	versionFlag := flag.Bool("version", false, "Show version")

	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Printf("hostsmanager version %s\n", appVersion)
		return
	}

	args := flag.Args()
	if err := run(opts, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "hostsmanager - hosts file editor\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager                          Launch TUI\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager list                     List all entries\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager add [-c comment] [-disabled] <ip> <hostname>...\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager rm <hostname>...         Delete entries\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager on <hostname>...         Enable entries\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager off <hostname>...        Disable entries\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager import <file|->          Replace entries from a hosts file\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager export [file]            Write the hosts file\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager backup                   Back up the hosts file\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager backups                  List backups\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager restore [name]           Restore a backup (latest by default)\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager status                   Show helper status\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Helper:\n")
	fmt.Fprintf(os.Stderr, "  sudo hostsmanager install             Install the helper service\n")
	fmt.Fprintf(os.Stderr, "  sudo hostsmanager uninstall           Remove the helper service\n")
	fmt.Fprintf(os.Stderr, "  hostsmanager daemon                   Run the helper (used by launchd/systemd)\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func run(opts options, args []string) error {
	if len(args) > 0 && args[0] == "daemon" {
		return runDaemon(opts, args[1:])
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		// Logs would tear the alternate screen.
		logging.Setup(cfg.Settings.LogLevel, false, io.Discard)
		return runTUI(cfg)
	}
	logging.Setup(cfg.Settings.LogLevel, opts.jsonLogs, os.Stderr)

	switch args[0] {
	case "install":
		return runInstall(opts.configPath, cfg)
	case "uninstall":
		return runUninstall(opts.configPath, cfg)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	client, err := connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	env := &cmdEnv{
		ctx:     ctx,
		client:  client,
		service: service.New(client),
		out:     os.Stdout,
		in:      os.Stdin,
	}
	return cmd(env, args[1:])
}

// loadConfig reads the config file, falling back to defaults, and applies
// flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	mgr := config.NewManager(opts.configPath)
	if err := mgr.LoadOrDefault(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := *mgr.Get()
	if opts.socketPath != "" {
		cfg.Settings.SocketPath = opts.socketPath
	}
	if opts.logLevel != "" {
		cfg.Settings.LogLevel = opts.logLevel
	}
	return &cfg, nil
}

func newClient(cfg *config.Config) *ipc.Client {
	return ipc.New(
		ipc.NewSocketDialer(cfg.Settings.SocketPath, cfg.Client.DialTimeout),
		ipc.WithBackoff(cfg.Client.ReconnectBase, cfg.Client.ReconnectMax),
	)
}

// connect returns a client once the helper has answered.
func connect(cfg *config.Config) (*ipc.Client, error) {
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.WaitConnected(ctx); err != nil {
		client.Close()
		if checkErr := installer.CheckInstallation(cfg.Settings); checkErr != nil {
			return nil, fmt.Errorf("%w\n\nTo install, run: sudo hostsmanager install", checkErr)
		}
		return nil, fmt.Errorf("failed to connect to helper: %w", err)
	}
	return client, nil
}

func runDaemon(opts options, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	configPath := fs.String("config", opts.configPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logging.Setup(opts.logLevel, true, os.Stderr)
	daemon.Version = appVersion

	d, err := daemon.New(*configPath)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	return nil
}

func runInstall(configPath string, cfg *config.Config) error {
	inst, err := installer.New(configPath, cfg.Settings)
	if err != nil {
		return err
	}
	return inst.Install()
}

func runUninstall(configPath string, cfg *config.Config) error {
	inst, err := installer.New(configPath, cfg.Settings)
	if err != nil {
		return err
	}
	return inst.Uninstall()
}

func runTUI(cfg *config.Config) error {
	client := newClient(cfg)
	defer client.Close()

	return tui.Run(service.New(client), client, appVersion)
}
