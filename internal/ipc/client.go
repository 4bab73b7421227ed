// Package ipc provides the client side of the connection to the privileged
// helper: connection state, reconnects with backoff, and request calls.
package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
)

// UnknownVersion is reported when the helper version cannot be fetched.
const UnknownVersion = "Unknown"

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second

	stateBuffer = 16
)

// Option configures a Client.
type Option func(*Client)

// WithBackoff sets the first reconnect delay and its cap.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithProbeTimeout bounds the ping sent after each dial.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client owns the single connection to the helper. It is safe for
// concurrent use.
type Client struct {
	dialer       Dialer
	baseDelay    time.Duration
	maxDelay     time.Duration
	probeTimeout time.Duration
	log          zerolog.Logger

	states *Broadcaster[State]

	mu       sync.Mutex
	ch       Channel
	gen      uint64
	state    State
	attempts int
	timer    *time.Timer
	closed   bool

	// onSchedule observes every scheduled reconnect delay.
	onSchedule func(time.Duration)
}

// New creates a client and starts connecting in the background.
func New(dialer Dialer, opts ...Option) *Client {
	c := &Client{
		dialer:       dialer,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		probeTimeout: DefaultProbeTimeout,
		log:          log.With().Str("component", "ipc").Logger(),
		states:       NewBroadcaster(Disconnected, stateBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.connect()
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a stream of state changes, starting with the current
// state. Call the returned func to stop receiving.
func (c *Client) Subscribe() (<-chan State, func()) {
	return c.states.Subscribe()
}

// WaitConnected blocks until the client is connected or ctx ends.
func (c *Client) WaitConnected(ctx context.Context) error {
	ch, cancel := c.Subscribe()
	defer cancel()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			if s == Connected {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reconnect drops any pending reconnect and dials immediately.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.stopTimerLocked()
	c.mu.Unlock()
	go c.connect()
}

// Close stops reconnecting and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopTimerLocked()
	var err error
	if c.ch != nil {
		err = c.ch.Close()
		c.ch = nil
	}
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	c.states.Close()
	return err
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	ch, err := c.dialer.Dial(Handlers{
		Invalidated: func() { c.invalidated(gen) },
		Interrupted: func() { c.interrupted(gen) },
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Helper dial failed")
		c.mu.Lock()
		if gen == c.gen {
			c.disconnectLocked()
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.ch = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	ok := ping(ctx, ch)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if ok {
		c.attempts = 0
		c.setStateLocked(Connected)
		c.log.Info().Msg("Helper connection established")
		return
	}
	c.log.Warn().Msg("Helper did not answer ping")
	_ = ch.Close()
	c.ch = nil
	c.disconnectLocked()
}

func (c *Client) invalidated(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.log.Warn().Msg("Helper connection invalidated")
	c.ch = nil
	c.disconnectLocked()
}

func (c *Client) interrupted(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.log.Warn().Msg("Helper connection interrupted")
	c.disconnectLocked()
}

// disconnectLocked marks the client disconnected and schedules a reconnect.
func (c *Client) disconnectLocked() {
	c.setStateLocked(Disconnected)
	c.scheduleLocked()
}

func (c *Client) scheduleLocked() {
	if c.closed {
		return
	}
	delay := c.backoff(c.attempts)
	c.attempts++
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, c.connect)
	c.log.Debug().Dur("delay", delay).Int("attempt", c.attempts).Msg("Reconnect scheduled")
	if c.onSchedule != nil {
		c.onSchedule(delay)
	}
}

// backoff returns base*2^attempts, capped at maxDelay.
func (c *Client) backoff(attempts int) time.Duration {
	delay := c.baseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.states.Publish(s)
}

func (c *Client) channel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// call issues req on the current channel and waits for the first outcome.
func (c *Client) call(ctx context.Context, reqType protocol.RequestType, payload interface{}) (*protocol.Response, error) {
	ch := c.channel()
	if ch == nil {
		return nil, ErrConnectionFailed
	}
	req, err := protocol.NewRequest(reqType, payload)
	if err != nil {
		return nil, err
	}
	return roundTrip(ctx, ch, req)
}

func roundTrip(ctx context.Context, ch Channel, req *protocol.Request) (*protocol.Response, error) {
	latch := NewLatch[*protocol.Response]()
	ch.Call(req,
		func(resp *protocol.Response) { latch.Resolve(resp, nil) },
		func(err error) { latch.Resolve(nil, transportError(err)) },
	)
	return latch.Wait(ctx)
}

func ping(ctx context.Context, ch Channel) bool {
	req, _ := protocol.NewRequest(protocol.RequestPing, nil)
	resp, err := roundTrip(ctx, ch, req)
	if err != nil || !resp.IsOK() {
		return false
	}
	var data protocol.PingData
	if err := resp.ParseData(&data); err != nil {
		return false
	}
	return data.OK
}

// CheckConnection pings the helper and updates the connection state.
// Without a connection it starts an immediate reconnect and returns false.
func (c *Client) CheckConnection(ctx context.Context) bool {
	c.mu.Lock()
	ch, gen := c.ch, c.gen
	c.mu.Unlock()

	if ch == nil {
		c.Reconnect()
		return false
	}

	ok := ping(ctx, ch)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return ok
	}
	if ok {
		c.attempts = 0
		c.setStateLocked(Connected)
	} else if c.state != Disconnected {
		c.disconnectLocked()
	}
	return ok
}

// Read returns the raw hosts file content.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	resp, err := c.call(ctx, protocol.RequestRead, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		c.log.Error().Err(err).Msg("Failed to read hosts file")
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	var data protocol.ReadData
	if err := resp.ParseData(&data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	c.log.Debug().Int("bytes", len(data.Content)).Msg("Read hosts file")
	return data.Content, nil
}

// Write replaces the hosts file content.
func (c *Client) Write(ctx context.Context, content []byte) error {
	resp, err := c.call(ctx, protocol.RequestWrite, protocol.WritePayload{Content: content})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		c.log.Error().Err(err).Msg("Failed to write hosts file")
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	c.log.Debug().Int("bytes", len(content)).Msg("Wrote hosts file")
	return nil
}

// Backup asks the helper to back up the current hosts file.
func (c *Client) Backup(ctx context.Context) error {
	_, err := c.BackupNamed(ctx)
	return err
}

// BackupNamed is Backup returning the name of the backup created.
func (c *Client) BackupNamed(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, protocol.RequestBackup, nil)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		c.log.Error().Err(err).Msg("Failed to back up hosts file")
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	var data protocol.BackupData
	_ = resp.ParseData(&data)
	return data.Name, nil
}

// Restore restores the most recent backup.
func (c *Client) Restore(ctx context.Context) error {
	return c.RestoreNamed(ctx, "")
}

// RestoreNamed restores the given backup, or the most recent when name is empty.
func (c *Client) RestoreNamed(ctx context.Context, name string) error {
	var payload interface{}
	if name != "" {
		payload = protocol.RestorePayload{Name: name}
	}
	resp, err := c.call(ctx, protocol.RequestRestore, payload)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		c.log.Error().Err(err).Msg("Failed to restore hosts file")
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	return nil
}

// Backups lists the helper's backups, newest first.
func (c *Client) Backups(ctx context.Context) ([]protocol.BackupInfo, error) {
	resp, err := c.call(ctx, protocol.RequestBackups, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var data protocol.BackupsData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return data.Backups, nil
}

// Status returns the helper's status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusData, error) {
	resp, err := c.call(ctx, protocol.RequestStatus, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var data protocol.StatusData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Version returns the helper's version, or UnknownVersion on any failure.
func (c *Client) Version(ctx context.Context) string {
	resp, err := c.call(ctx, protocol.RequestVersion, nil)
	if err != nil || !resp.IsOK() {
		return UnknownVersion
	}
	var data protocol.VersionData
	if err := resp.ParseData(&data); err != nil || data.Version == "" {
		return UnknownVersion
	}
	return data.Version
}
