package daemon

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
)

// DNSFlusher flushes the system resolver cache after the hosts file changes.
type DNSFlusher struct {
	mu     sync.Mutex
	method config.FlushMethod
	goos   string
	run    func(name string, args ...string) error
	look   func(name string) error
	log    zerolog.Logger
}

// NewDNSFlusher creates a new DNS flusher.
func NewDNSFlusher(method config.FlushMethod) *DNSFlusher {
	return &DNSFlusher{
		method: method,
		goos:   runtime.GOOS,
		run:    runCommand,
		look: func(name string) error {
			_, err := exec.LookPath(name)
			return err
		},
		log: log.With().Str("component", "dns").Logger(),
	}
}

// SetMethod changes the flush method.
func (f *DNSFlusher) SetMethod(method config.FlushMethod) {
	f.mu.Lock()
	f.method = method
	f.mu.Unlock()
}

// Method returns the configured flush method.
func (f *DNSFlusher) Method() config.FlushMethod {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.method
}

// Flush flushes the DNS cache using the configured method.
func (f *DNSFlusher) Flush() error {
	method := f.Method()
	if method == config.FlushMethodNone {
		return nil
	}
	if method == config.FlushMethodAuto || method == "" {
		method = f.detectMethod()
	}

	f.log.Debug().Str("method", string(method)).Msg("Flushing DNS cache")

	switch f.goos {
	case "darwin":
		return f.flushDarwin(method)
	case "linux":
		return f.flushLinux(method)
	default:
		return fmt.Errorf("unsupported operating system: %s", f.goos)
	}
}

func (f *DNSFlusher) detectMethod() config.FlushMethod {
	switch f.goos {
	case "darwin":
		return config.FlushMethodBoth
	case "linux":
		if f.look("resolvectl") == nil || f.look("systemd-resolve") == nil {
			return config.FlushMethodSystemd
		}
		if f.look("nscd") == nil {
			return config.FlushMethodNscd
		}
		return config.FlushMethodAuto
	default:
		return config.FlushMethodAuto
	}
}

func (f *DNSFlusher) flushDarwin(method config.FlushMethod) error {
	switch method {
	case config.FlushMethodDscacheutil:
		if err := f.run("dscacheutil", "-flushcache"); err != nil {
			return fmt.Errorf("dscacheutil failed: %w", err)
		}
	case config.FlushMethodKillall:
		if err := f.run("killall", "-HUP", "mDNSResponder"); err != nil {
			return fmt.Errorf("killall mDNSResponder failed: %w", err)
		}
	case config.FlushMethodBoth:
		errDs := f.run("dscacheutil", "-flushcache")
		errKill := f.run("killall", "-HUP", "mDNSResponder")
		if errDs != nil && errKill != nil {
			return fmt.Errorf("all DNS flush methods failed: %w", errors.Join(
				fmt.Errorf("dscacheutil failed: %w", errDs),
				fmt.Errorf("killall mDNSResponder failed: %w", errKill),
			))
		}
	default:
		_ = f.run("dscacheutil", "-flushcache")
		_ = f.run("killall", "-HUP", "mDNSResponder")
	}
	return nil
}

func (f *DNSFlusher) flushLinux(method config.FlushMethod) error {
	switch method {
	case config.FlushMethodSystemd:
		if err := f.run("resolvectl", "flush-caches"); err != nil {
			if err := f.run("systemd-resolve", "--flush-caches"); err != nil {
				return fmt.Errorf("systemd DNS flush failed: %w", err)
			}
		}
	case config.FlushMethodNscd:
		if err := f.run("nscd", "-i", "hosts"); err != nil {
			if err := f.run("service", "nscd", "restart"); err != nil {
				return fmt.Errorf("nscd flush failed: %w", err)
			}
		}
	default:
		// Without a caching resolver /etc/hosts is read directly.
		if f.run("resolvectl", "flush-caches") == nil {
			return nil
		}
		if f.run("systemd-resolve", "--flush-caches") == nil {
			return nil
		}
		_ = f.run("nscd", "-i", "hosts")
	}
	return nil
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...) // #nosec G204 - Commands are hardcoded DNS flush utilities, not user input
	return cmd.Run()
}
