// Package config handles YAML configuration parsing, environment overrides
// and hot-reload.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// SystemConfigDir is the system-wide config directory.
const SystemConfigDir = "/etc/hostsmanager"

// SystemConfigPath is the system-wide config file path.
const SystemConfigPath = "/etc/hostsmanager/config.yaml"

// FlushMethod defines DNS cache flush methods.
type FlushMethod string

const (
	FlushMethodAuto        FlushMethod = "auto"
	FlushMethodDscacheutil FlushMethod = "dscacheutil"
	FlushMethodKillall     FlushMethod = "killall"
	FlushMethodBoth        FlushMethod = "both"
	FlushMethodSystemd     FlushMethod = "systemd"
	FlushMethodNscd        FlushMethod = "nscd"
	FlushMethodNone        FlushMethod = "none"
)

// Settings configures the helper daemon.
type Settings struct {
	HostsPath    string      `yaml:"hostsPath"`
	BackupDir    string      `yaml:"backupDir"`
	MaxBackups   int         `yaml:"maxBackups"`
	SocketPath   string      `yaml:"socketPath"`
	SocketGroup  string      `yaml:"socketGroup"`
	FlushMethod  FlushMethod `yaml:"flushMethod"`
	LogLevel     string      `yaml:"logLevel"`
	AuditLogPath string      `yaml:"auditLogPath"`
	MetricsAddr  string      `yaml:"metricsAddr"`
}

// Client configures the unprivileged side.
type Client struct {
	ReconnectBase time.Duration `yaml:"reconnectBase"`
	ReconnectMax  time.Duration `yaml:"reconnectMax"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
}

// Config represents the complete configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
	Client   Client   `yaml:"client"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Settings: Settings{
			HostsPath:    "/etc/hosts",
			BackupDir:    "/var/backups/hostsmanager",
			MaxBackups:   10,
			SocketPath:   "/var/run/hostsmanager.sock",
			SocketGroup:  "hostsmanager",
			FlushMethod:  FlushMethodAuto,
			LogLevel:     "info",
			AuditLogPath: "/var/log/hostsmanager/audit.log",
		},
		Client: Client{
			ReconnectBase: time.Second,
			ReconnectMax:  30 * time.Second,
			DialTimeout:   5 * time.Second,
		},
	}
}

// Manager handles configuration loading and watching.
type Manager struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a new config manager.
func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the configuration file on top of the defaults, applies
// environment overrides and validates the result.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return m.finish(cfg)
}

// LoadOrDefault is Load falling back to the defaults when the file does
// not exist.
func (m *Manager) LoadOrDefault() error {
	err := m.Load()
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return m.finish(Default())
}

func (m *Manager) finish(cfg *Config) error {
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch starts watching the config file for changes.
func (m *Manager) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.watcher = watcher
	m.onChange = onChange

	go m.watchLoop()

	if err := watcher.Add(m.path); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	return nil
}

func (m *Manager) watchLoop() {
	logger := log.With().Str("component", "config").Logger()
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := m.Load(); err != nil {
				logger.Warn().Err(err).Msg("Ignoring invalid config change")
				continue
			}
			logger.Info().Str("path", m.path).Msg("Config reloaded")
			if m.onChange != nil {
				m.onChange(m.Get())
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Config watcher error")
		case <-m.stopCh:
			return
		}
	}
}

// Stop stops watching the config file.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
}

// Save writes the configuration to the file.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	return write(m.path, cfg)
}

// CreateDefault writes the default configuration to path.
func CreateDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return write(path, Default())
}

func write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// #nosec G306 - the unprivileged client reads this file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
