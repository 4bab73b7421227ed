package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LoadAndGet(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
settings:
  hostsPath: /tmp/hosts
  maxBackups: 3
  flushMethod: none
  logLevel: debug
client:
  reconnectBase: 500ms
  reconnectMax: 10s
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	require.NoError(t, err)

	cfg := manager.Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/hosts", cfg.Settings.HostsPath)
	assert.Equal(t, 3, cfg.Settings.MaxBackups)
	assert.Equal(t, FlushMethodNone, cfg.Settings.FlushMethod)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.ReconnectBase)
	assert.Equal(t, 10*time.Second, cfg.Client.ReconnectMax)

	// Unset keys keep their defaults.
	assert.Equal(t, "/var/backups/hostsmanager", cfg.Settings.BackupDir)
	assert.Equal(t, "/var/run/hostsmanager.sock", cfg.Settings.SocketPath)
	assert.Equal(t, 5*time.Second, cfg.Client.DialTimeout)
}

func TestManager_Save(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := CreateDefault(configPath)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	require.NoError(t, err)

	cfg := manager.Get()
	cfg.Settings.MaxBackups = 42
	cfg.Client.ReconnectMax = time.Minute

	err = manager.Save()
	require.NoError(t, err)

	manager2 := NewManager(configPath)
	err = manager2.Load()
	require.NoError(t, err)

	cfg2 := manager2.Get()
	assert.Equal(t, 42, cfg2.Settings.MaxBackups)
	assert.Equal(t, time.Minute, cfg2.Client.ReconnectMax)
}

func TestCreateDefault(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	err := CreateDefault(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), manager.Get())
}

func TestManager_Load_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	assert.Error(t, err)
}

func TestManager_Load_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("settings:\n  maxBackups: 0\n"), 0644)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "settings.maxBackups", verr.Field)
	assert.Nil(t, manager.Get())
}

func TestManager_Load_FileNotFound(t *testing.T) {
	manager := NewManager("/nonexistent/path/config.yaml")
	err := manager.Load()
	assert.Error(t, err)
}

func TestManager_LoadOrDefault(t *testing.T) {
	t.Run("missing file gives defaults", func(t *testing.T) {
		manager := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, manager.LoadOrDefault())
		assert.Equal(t, Default(), manager.Get())
	})

	t.Run("broken file is still an error", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("settings: ["), 0644))
		manager := NewManager(configPath)
		assert.Error(t, manager.LoadOrDefault())
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HOSTSMANAGER_SOCKET", "/tmp/test.sock")
	t.Setenv("HOSTSMANAGER_HOSTS_PATH", "/tmp/hosts")
	t.Setenv("HOSTSMANAGER_MAX_BACKUPS", "4")
	t.Setenv("HOSTSMANAGER_LOG_LEVEL", "debug")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, "/tmp/test.sock", cfg.Settings.SocketPath)
	assert.Equal(t, "/tmp/hosts", cfg.Settings.HostsPath)
	assert.Equal(t, 4, cfg.Settings.MaxBackups)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
	// Untouched values survive.
	assert.Equal(t, "/var/backups/hostsmanager", cfg.Settings.BackupDir)
	assert.Equal(t, FlushMethodAuto, cfg.Settings.FlushMethod)
}

func TestApplyEnv_CleanEnvironmentKeepsDefaults(t *testing.T) {
	for _, key := range []string{
		"HOSTSMANAGER_HOSTS_PATH", "HOSTSMANAGER_BACKUP_DIR", "HOSTSMANAGER_MAX_BACKUPS",
		"HOSTSMANAGER_SOCKET", "HOSTSMANAGER_FLUSH_METHOD", "HOSTSMANAGER_LOG_LEVEL",
		"HOSTSMANAGER_METRICS_ADDR", "HOSTSMANAGER_DIAL_TIMEOUT",
	} {
		t.Setenv(key, "")
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestManager_LoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("HOSTSMANAGER_SOCKET", "")
	manager := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, manager.LoadOrDefault())
	assert.Equal(t, Default().Settings.SocketPath, manager.Get().Settings.SocketPath)
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("settings:\n  socketPath: /tmp/file.sock\n"), 0644))
	t.Setenv("HOSTSMANAGER_SOCKET", "/tmp/env.sock")

	manager := NewManager(configPath)
	require.NoError(t, manager.Load())
	assert.Equal(t, "/tmp/env.sock", manager.Get().Settings.SocketPath)
}

func TestManager_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := CreateDefault(configPath)
	require.NoError(t, err)

	manager := NewManager(configPath)
	err = manager.Load()
	require.NoError(t, err)

	changeCh := make(chan *Config, 4)
	err = manager.Watch(func(cfg *Config) {
		changeCh <- cfg
	})
	require.NoError(t, err)
	defer manager.Stop()

	cfg := Default()
	cfg.Settings.MaxBackups = 7
	require.NoError(t, write(configPath, cfg))

	select {
	case got := <-changeCh:
		assert.Equal(t, 7, got.Settings.MaxBackups)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestManager_Stop_Twice(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	manager.Stop()
	manager.Stop()
}

func TestManager_Save_NoConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	manager := NewManager(configPath)
	err := manager.Save()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no config loaded")
}
