package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
)

// Version is set by the main package at startup
var Version = "dev"

// maxLineSize bounds one request line. Content is base64 inside JSON.
const maxLineSize = protocol.MaxContentSize*4/3 + 64*1024

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuditLogger records privileged requests to a.
func WithAuditLogger(a *AuditLogger) ServerOption {
	return func(s *Server) { s.audit = a }
}

// WithSocketGID sets the group owning the socket. Members may connect.
func WithSocketGID(gid int) ServerOption {
	return func(s *Server) { s.socketGID = gid }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter replaces the default per-PID limiter.
func WithRateLimiter(r *RateLimiter) ServerOption {
	return func(s *Server) { s.rateLimiter = r }
}

// Server is the helper's Unix socket server.
type Server struct {
	socketPath  string
	socketGID   int
	listener    net.Listener
	store       *FileStore
	flusher     *DNSFlusher
	rateLimiter *RateLimiter
	audit       *AuditLogger
	metrics     *Metrics
	log         zerolog.Logger

	authorize func(*PeerCredentials) bool
	peerCreds func(net.Conn) *PeerCredentials

	mu           sync.Mutex
	conns        map[net.Conn]struct{}
	requestCount int64
	startTime    time.Time
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewServer creates a server for the hosts file held by store.
func NewServer(socketPath string, store *FileStore, flusher *DNSFlusher, opts ...ServerOption) *Server {
	s := &Server{
		socketPath:  socketPath,
		socketGID:   -1,
		store:       store,
		flusher:     flusher,
		rateLimiter: NewRateLimiter(RateLimit, RateLimitWindow),
		log:         log.With().Str("component", "server").Logger(),
		peerCreds:   peerCredentials,
		conns:       make(map[net.Conn]struct{}),
		stopCh:      make(chan struct{}),
	}
	s.authorize = s.isAuthorized
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Start listens on the socket and serves connections in the background.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// #nosec G302 - group members need write access to the socket
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	if s.socketGID >= 0 {
		if err := os.Chown(s.socketPath, 0, s.socketGID); err != nil {
			listener.Close()
			return fmt.Errorf("failed to set socket ownership: %w", err)
		}
	}

	s.mu.Lock()
	s.listener = listener
	s.startTime = time.Now()
	s.mu.Unlock()

	s.log.Info().Str("socket", s.socketPath).Msg("Listening")
	go s.acceptLoop(listener)
	return nil
}

// Stop closes the listener and all open connections.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		os.Remove(s.socketPath)
		s.audit.Close()
	})
	return nil
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ApplySettings updates the settings that can change while running.
func (s *Server) ApplySettings(settings config.Settings) {
	s.flusher.SetMethod(settings.FlushMethod)
	s.store.SetMaxBackups(settings.MaxBackups)
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Accept failed")
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.metrics.OpenConnections.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.metrics.OpenConnections.Dec()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	creds := s.peerCreds(conn)

	if !s.authorize(creds) {
		s.metrics.Unauthorized.Inc()
		s.audit.Log(creds, "connect", false, "unauthorized access attempt", nil)
		s.log.Warn().Interface("peer", creds).Msg("Rejected unauthorized peer")
		s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeUnauthorized, "unauthorized: user not in socket group"))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var req protocol.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid JSON"))
			continue
		}

		if creds != nil && !s.rateLimiter.Allow(creds.PID) {
			s.metrics.RateLimited.Inc()
			resp := protocol.NewErrorResponse(protocol.ErrCodeRateLimited, "rate limit exceeded")
			resp.ID = req.ID
			s.writeResponse(conn, resp)
			continue
		}

		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()

		resp := s.handleRequest(&req, creds)
		resp.ID = req.ID
		s.metrics.Requests.WithLabelValues(string(req.Type), resp.Status).Inc()
		s.writeResponse(conn, resp)
	}

	if errors.Is(scanner.Err(), bufio.ErrTooLong) {
		s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "request too large"))
	}
}

// isAuthorized allows root and members of the socket group.
func (s *Server) isAuthorized(creds *PeerCredentials) bool {
	if creds == nil {
		return false
	}
	if creds.UID == 0 {
		return true
	}
	if s.socketGID < 0 {
		return false
	}
	// #nosec G115 - GIDs fit in uint32
	gid := uint32(s.socketGID)
	if creds.GID == gid {
		return true
	}
	return isUserInGroup(creds.UID, gid)
}

func (s *Server) writeResponse(conn net.Conn, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleRequest(req *protocol.Request, creds *PeerCredentials) *protocol.Response {
	switch req.Type {
	case protocol.RequestPing:
		return okResponse(protocol.PingData{OK: true})

	case protocol.RequestVersion:
		return okResponse(protocol.VersionData{Version: Version})

	case protocol.RequestStatus:
		return s.handleStatus()

	case protocol.RequestRead:
		return s.handleRead()

	case protocol.RequestWrite:
		resp, size := s.handleWrite(req)
		s.audit.Log(creds, "write", resp.IsOK(), resp.Message, map[string]any{"bytes": size})
		return resp

	case protocol.RequestBackup:
		resp := s.handleBackup()
		s.audit.Log(creds, "backup", resp.IsOK(), resp.Message, nil)
		return resp

	case protocol.RequestRestore:
		resp, name := s.handleRestore(req)
		s.audit.Log(creds, "restore", resp.IsOK(), resp.Message, map[string]any{"backup": name})
		return resp

	case protocol.RequestBackups:
		return s.handleBackups()

	default:
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func okResponse(data any) *protocol.Response {
	resp, err := protocol.NewOKResponse(data)
	if err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, err.Error())
	}
	return resp
}

// fileError maps a filesystem failure to a response, keeping permission
// problems distinct.
func fileError(code protocol.ErrorCode, err error) *protocol.Response {
	if errors.Is(err, os.ErrPermission) {
		code = protocol.ErrCodePermissionError
	}
	return protocol.NewErrorResponse(code, err.Error())
}

func (s *Server) handleStatus() *protocol.Response {
	s.mu.Lock()
	reqCount := s.requestCount
	startTime := s.startTime
	s.mu.Unlock()

	var uptime int64
	if !startTime.IsZero() {
		uptime = int64(time.Since(startTime).Seconds())
	}

	return okResponse(protocol.StatusData{
		Running:      true,
		Version:      Version,
		Uptime:       uptime,
		RequestCount: reqCount,
		HostsPath:    s.store.HostsPath(),
	})
}

func (s *Server) handleRead() *protocol.Response {
	content, err := s.store.Read()
	if err != nil {
		return fileError(protocol.ErrCodeReadFailed, err)
	}
	return okResponse(protocol.ReadData{Content: content})
}

func (s *Server) handleWrite(req *protocol.Request) (*protocol.Response, int) {
	var payload protocol.WritePayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload"), 0
	}

	size := len(payload.Content)
	if size > protocol.MaxContentSize {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest,
			fmt.Sprintf("content too large: %d bytes, maximum %d", size, protocol.MaxContentSize)), size
	}
	if !utf8.Valid(payload.Content) {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "content is not valid UTF-8"), size
	}

	if err := s.store.Write(payload.Content); err != nil {
		return fileError(protocol.ErrCodeWriteFailed, err), size
	}

	s.metrics.BytesWritten.Add(float64(size))
	s.metrics.LastWrite.SetToCurrentTime()
	s.log.Info().Int("bytes", size).Msg("Hosts file written")
	s.flush()

	return okResponse(nil), size
}

func (s *Server) handleBackup() *protocol.Response {
	name, err := s.store.CreateBackup()
	if err != nil {
		return fileError(protocol.ErrCodeBackupFailed, err)
	}
	s.metrics.Backups.Inc()
	s.log.Info().Str("backup", name).Msg("Backup created")
	return okResponse(protocol.BackupData{Name: name})
}

func (s *Server) handleRestore(req *protocol.Request) (*protocol.Response, string) {
	var payload protocol.RestorePayload
	if req.Payload != nil {
		if err := req.ParsePayload(&payload); err != nil {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload"), ""
		}
	}

	name, err := s.store.Restore(payload.Name)
	if err != nil {
		s.metrics.Restores.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, ErrNoBackups):
			return protocol.NewErrorResponse(protocol.ErrCodeNotFound, err.Error()), payload.Name
		case errors.Is(err, ErrInvalidBackupName):
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, err.Error()), payload.Name
		case errors.Is(err, os.ErrNotExist):
			return protocol.NewErrorResponse(protocol.ErrCodeNotFound, err.Error()), payload.Name
		}
		return fileError(protocol.ErrCodeRestoreFailed, err), payload.Name
	}

	s.metrics.Restores.WithLabelValues("ok").Inc()
	s.log.Info().Str("backup", name).Msg("Backup restored")
	s.flush()
	return okResponse(protocol.RestoreData{Name: name}), name
}

func (s *Server) handleBackups() *protocol.Response {
	backups, err := s.store.ListBackups()
	if err != nil {
		return fileError(protocol.ErrCodeReadFailed, err)
	}

	infos := make([]protocol.BackupInfo, 0, len(backups))
	for _, b := range backups {
		infos = append(infos, protocol.BackupInfo{
			Name:      b.Name,
			Timestamp: b.Timestamp,
			Size:      b.Size,
		})
	}
	return okResponse(protocol.BackupsData{Backups: infos})
}

// flush clears the resolver cache. Failures are logged, not returned.
func (s *Server) flush() {
	if err := s.flusher.Flush(); err != nil {
		s.metrics.FlushFailures.Inc()
		s.log.Warn().Err(err).Msg("DNS cache flush failed")
	}
}
