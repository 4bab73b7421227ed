package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var logLevels = map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "": true}

// ValidateConfig validates the entire configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "config", Message: "config is nil"}
	}
	if err := validateSettings(&cfg.Settings); err != nil {
		return err
	}
	return validateClient(&cfg.Client)
}

func validateSettings(s *Settings) error {
	switch s.FlushMethod {
	case FlushMethodAuto, FlushMethodDscacheutil, FlushMethodKillall, FlushMethodBoth,
		FlushMethodSystemd, FlushMethodNscd, FlushMethodNone, "":
	default:
		return &ValidationError{
			Field:   "settings.flushMethod",
			Message: fmt.Sprintf("invalid flush method: %s", s.FlushMethod),
		}
	}

	for field, path := range map[string]string{
		"settings.hostsPath":  s.HostsPath,
		"settings.backupDir":  s.BackupDir,
		"settings.socketPath": s.SocketPath,
	} {
		if strings.TrimSpace(path) == "" {
			return &ValidationError{Field: field, Message: "path is required"}
		}
		if !filepath.IsAbs(path) {
			return &ValidationError{Field: field, Message: fmt.Sprintf("path must be absolute: %s", path)}
		}
	}

	if s.MaxBackups < 1 {
		return &ValidationError{
			Field:   "settings.maxBackups",
			Message: fmt.Sprintf("must be at least 1, got %d", s.MaxBackups),
		}
	}

	if !logLevels[strings.ToLower(s.LogLevel)] {
		return &ValidationError{
			Field:   "settings.logLevel",
			Message: fmt.Sprintf("invalid log level: %s", s.LogLevel),
		}
	}

	if s.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(s.MetricsAddr); err != nil {
			return &ValidationError{
				Field:   "settings.metricsAddr",
				Message: fmt.Sprintf("invalid listen address: %s", s.MetricsAddr),
			}
		}
	}
	return nil
}

func validateClient(c *Client) error {
	if c.ReconnectBase <= 0 {
		return &ValidationError{Field: "client.reconnectBase", Message: "must be positive"}
	}
	if c.ReconnectMax < c.ReconnectBase {
		return &ValidationError{Field: "client.reconnectMax", Message: "must not be below reconnectBase"}
	}
	if c.DialTimeout <= 0 {
		return &ValidationError{Field: "client.dialTimeout", Message: "must be positive"}
	}
	return nil
}
