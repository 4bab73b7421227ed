package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
)

// Handlers are notified when a channel stops working.
//
// Invalidated means the channel is unusable for good. Interrupted means the
// peer went away; a new channel may reach a restarted peer.
type Handlers struct {
	Invalidated func()
	Interrupted func()
}

// Channel carries requests to the helper. Call reports the outcome through
// onReply or onError. Either may run on any goroutine, and both may run for
// the same call.
type Channel interface {
	Call(req *protocol.Request, onReply func(*protocol.Response), onError func(error))
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(h Handlers) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(h Handlers) (Channel, error)

// Dial calls f.
func (f DialerFunc) Dial(h Handlers) (Channel, error) {
	return f(h)
}

// SocketDialer dials the helper's Unix socket.
type SocketDialer struct {
	Path    string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewSocketDialer returns a dialer for the socket at path.
func NewSocketDialer(path string, timeout time.Duration) *SocketDialer {
	return &SocketDialer{Path: path, Timeout: timeout, Logger: zerolog.Nop()}
}

// Dial connects and starts the reader goroutine.
func (d *SocketDialer) Dial(h Handlers) (Channel, error) {
	conn, err := net.DialTimeout("unix", d.Path, d.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to helper: %w", err)
	}

	sc := &socketChannel{
		conn:     conn,
		timeout:  d.Timeout,
		handlers: h,
		pending:  make(map[uint64]pendingCall),
		log:      d.Logger,
	}
	go sc.readLoop()
	return sc, nil
}

type pendingCall struct {
	onReply func(*protocol.Response)
	onError func(error)
}

// socketChannel multiplexes newline-delimited JSON calls over one
// connection, matching replies to calls by request id.
type socketChannel struct {
	conn     net.Conn
	timeout  time.Duration
	handlers Handlers
	log      zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingCall
	broken  error
	closed  bool
}

func (s *socketChannel) Call(req *protocol.Request, onReply func(*protocol.Response), onError func(error)) {
	s.mu.Lock()
	if s.broken != nil {
		err := s.broken
		s.mu.Unlock()
		onError(err)
		return
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = pendingCall{onReply: onReply, onError: onError}
	s.mu.Unlock()

	out := *req
	out.ID = id
	data, err := json.Marshal(&out)
	if err != nil {
		s.fail(id, fmt.Errorf("failed to marshal request: %w", err))
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	_, err = s.conn.Write(data)
	s.writeMu.Unlock()

	if err != nil {
		s.fail(id, fmt.Errorf("failed to send request: %w", err))
	}
}

// fail completes a single pending call with err.
func (s *socketChannel) fail(id uint64, err error) {
	s.mu.Lock()
	call, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		call.onError(err)
	}
}

func (s *socketChannel) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *socketChannel) readLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			s.terminate(err)
			return
		}

		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.log.Warn().Err(err).Msg("Dropping malformed response")
			continue
		}

		s.mu.Lock()
		call, ok := s.pending[resp.ID]
		delete(s.pending, resp.ID)
		s.mu.Unlock()

		if !ok {
			s.log.Debug().Uint64("id", resp.ID).Msg("Response for unknown request")
			continue
		}
		call.onReply(&resp)
	}
}

// terminate fails every pending call and notifies the owner, unless the
// channel was closed locally.
func (s *socketChannel) terminate(readErr error) {
	s.mu.Lock()
	local := s.closed
	var cause error
	switch {
	case local:
		cause = ErrClosed
	case errors.Is(readErr, io.EOF):
		cause = ErrInterrupted
	default:
		cause = transportError(readErr)
	}
	s.broken = cause
	pending := s.pending
	s.pending = make(map[uint64]pendingCall)
	s.mu.Unlock()

	for _, call := range pending {
		call.onError(cause)
	}

	if local {
		return
	}
	_ = s.conn.Close()
	if errors.Is(cause, ErrInterrupted) {
		if s.handlers.Interrupted != nil {
			s.handlers.Interrupted()
		}
		return
	}
	if s.handlers.Invalidated != nil {
		s.handlers.Invalidated()
	}
}
