package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
	"github.com/lukaszraczylo/hostsmanager/internal/logging"
)

// Daemon wires the helper together and manages its lifecycle.
type Daemon struct {
	server     *Server
	config     *config.Manager
	settings   config.Settings
	metricsSrv *http.Server
	log        zerolog.Logger
	stopCh     chan struct{}
	cleanupCh  chan struct{}
	stopOnce   sync.Once
}

// New loads the configuration at configPath, creating it with defaults if
// it does not exist, and builds the server.
func New(configPath string) (*Daemon, error) {
	cfgManager := config.NewManager(configPath)

	if err := cfgManager.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := config.CreateDefault(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		if err := cfgManager.Load(); err != nil {
			return nil, fmt.Errorf("failed to load default config: %w", err)
		}
	}

	settings := cfgManager.Get().Settings
	logging.SetLevel(settings.LogLevel)
	logger := log.With().Str("component", "daemon").Logger()

	store := NewFileStore(settings.HostsPath, settings.BackupDir, settings.MaxBackups)
	flusher := NewDNSFlusher(settings.FlushMethod)

	opts := []ServerOption{WithMetrics(NewMetrics())}
	if gid, err := lookupGroupGID(settings.SocketGroup); err != nil {
		logger.Warn().Err(err).Msg("Socket group unavailable, only root may connect")
	} else {
		opts = append(opts, WithSocketGID(gid))
	}
	if settings.AuditLogPath != "" {
		audit, err := NewAuditLogger(settings.AuditLogPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Audit log disabled")
		} else {
			opts = append(opts, WithAuditLogger(audit))
		}
	}

	d := &Daemon{
		server:    NewServer(settings.SocketPath, store, flusher, opts...),
		config:    cfgManager,
		settings:  settings,
		log:       logger,
		stopCh:    make(chan struct{}),
		cleanupCh: make(chan struct{}),
	}
	if settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.server.Metrics().Handler())
		d.metricsSrv = &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return d, nil
}

// Run starts the daemon and blocks until stopped.
func (d *Daemon) Run() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("daemon must run as root")
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := d.config.Watch(d.onConfigChange); err != nil {
		d.log.Warn().Err(err).Msg("Config hot reload disabled")
	}

	go d.cleanupLoop()

	if d.metricsSrv != nil {
		go func() {
			d.log.Info().Str("addr", d.metricsSrv.Addr).Msg("Serving metrics")
			if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-d.stopCh:
		d.log.Info().Msg("Shutdown requested")
	}

	return d.shutdown()
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Daemon) shutdown() error {
	close(d.cleanupCh)
	d.config.Stop()

	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.metricsSrv.Shutdown(ctx)
	}

	if err := d.server.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

// onConfigChange applies reloadable settings. Paths and the socket need a
// restart.
func (d *Daemon) onConfigChange(cfg *config.Config) {
	if cfg == nil {
		return
	}
	next := cfg.Settings
	prev := d.settings

	logging.SetLevel(next.LogLevel)
	d.server.ApplySettings(next)
	d.server.Metrics().ConfigReloads.Inc()

	if next.HostsPath != prev.HostsPath || next.BackupDir != prev.BackupDir ||
		next.SocketPath != prev.SocketPath || next.SocketGroup != prev.SocketGroup ||
		next.MetricsAddr != prev.MetricsAddr || next.AuditLogPath != prev.AuditLogPath {
		d.log.Warn().Msg("Some changed settings only apply after a restart")
	}

	d.log.Info().
		Str("flushMethod", string(next.FlushMethod)).
		Int("maxBackups", next.MaxBackups).
		Str("logLevel", next.LogLevel).
		Msg("Applied config change")
}

func (d *Daemon) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.server.rateLimiter.Cleanup()
		case <-d.cleanupCh:
			return
		}
	}
}
