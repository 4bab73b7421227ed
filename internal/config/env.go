package config

import (
	"fmt"
	"time"

	"github.com/vrischmann/envconfig"
)

// envOverrides lists the settings that can be set from the environment.
// It is filled with the current values first; unset variables leave them
// untouched.
type envOverrides struct {
	HostsPath   string        `envconfig:"HOSTSMANAGER_HOSTS_PATH"`
	BackupDir   string        `envconfig:"HOSTSMANAGER_BACKUP_DIR"`
	MaxBackups  int           `envconfig:"HOSTSMANAGER_MAX_BACKUPS"`
	SocketPath  string        `envconfig:"HOSTSMANAGER_SOCKET"`
	FlushMethod FlushMethod   `envconfig:"HOSTSMANAGER_FLUSH_METHOD"`
	LogLevel    string        `envconfig:"HOSTSMANAGER_LOG_LEVEL"`
	MetricsAddr string        `envconfig:"HOSTSMANAGER_METRICS_ADDR"`
	DialTimeout time.Duration `envconfig:"HOSTSMANAGER_DIAL_TIMEOUT"`
}

// ApplyEnv overrides cfg with any HOSTSMANAGER_* environment variables.
func ApplyEnv(cfg *Config) error {
	env := envOverrides{
		HostsPath:   cfg.Settings.HostsPath,
		BackupDir:   cfg.Settings.BackupDir,
		MaxBackups:  cfg.Settings.MaxBackups,
		SocketPath:  cfg.Settings.SocketPath,
		FlushMethod: cfg.Settings.FlushMethod,
		LogLevel:    cfg.Settings.LogLevel,
		MetricsAddr: cfg.Settings.MetricsAddr,
		DialTimeout: cfg.Client.DialTimeout,
	}
	if err := envconfig.InitWithOptions(&env, envconfig.Options{AllOptional: true}); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.Settings.HostsPath = env.HostsPath
	cfg.Settings.BackupDir = env.BackupDir
	cfg.Settings.MaxBackups = env.MaxBackups
	cfg.Settings.SocketPath = env.SocketPath
	cfg.Settings.FlushMethod = env.FlushMethod
	cfg.Settings.LogLevel = env.LogLevel
	cfg.Settings.MetricsAddr = env.MetricsAddr
	cfg.Client.DialTimeout = env.DialTimeout
	return nil
}
