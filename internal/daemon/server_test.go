package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/hostsmanager/internal/config"
	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
)

const testHosts = "127.0.0.1\tlocalhost\n"

type testServer struct {
	*Server
	hostsPath string
	flushes   *[]string
	audit     *syncBuffer
}

// syncBuffer is written by connection goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setupTestServer(t testing.TB) *testServer {
	tmpDir, err := os.MkdirTemp("/tmp", "hmd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	hostsPath := filepath.Join(tmpDir, "hosts")
	require.NoError(t, os.WriteFile(hostsPath, []byte(testHosts), 0644))

	store := NewFileStore(hostsPath, filepath.Join(tmpDir, "backups"), 10)
	flusher, flushes := stubFlusher(config.FlushMethodAuto, "darwin", nil)
	audit := &syncBuffer{}

	server := NewServer(filepath.Join(tmpDir, "d.sock"), store, flusher,
		WithAuditLogger(NewAuditLoggerTo(audit)),
		WithRateLimiter(NewRateLimiter(100, time.Minute)),
	)
	t.Cleanup(func() { server.Stop() })

	return &testServer{Server: server, hostsPath: hostsPath, flushes: flushes, audit: audit}
}

func request(t testing.TB, reqType protocol.RequestType, payload any) *protocol.Request {
	req, err := protocol.NewRequest(reqType, payload)
	require.NoError(t, err)
	return req
}

var rootPeer = &PeerCredentials{UID: 0, GID: 0, PID: 1}

func TestServer_HandlePing(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleRequest(request(t, protocol.RequestPing, nil), rootPeer)
	require.True(t, resp.IsOK())

	var data protocol.PingData
	require.NoError(t, resp.ParseData(&data))
	assert.True(t, data.OK)
}

func TestServer_HandleVersion(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleRequest(request(t, protocol.RequestVersion, nil), rootPeer)
	var data protocol.VersionData
	require.NoError(t, resp.ParseData(&data))
	assert.Equal(t, Version, data.Version)
}

func TestServer_HandleStatus(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleStatus()
	require.True(t, resp.IsOK())

	var data protocol.StatusData
	require.NoError(t, resp.ParseData(&data))
	assert.True(t, data.Running)
	assert.Equal(t, server.hostsPath, data.HostsPath)
}

func TestServer_HandleRead(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleRequest(request(t, protocol.RequestRead, nil), rootPeer)
	require.True(t, resp.IsOK())

	var data protocol.ReadData
	require.NoError(t, resp.ParseData(&data))
	assert.Equal(t, testHosts, string(data.Content))
}

func TestServer_HandleRead_Missing(t *testing.T) {
	server := setupTestServer(t)
	require.NoError(t, os.Remove(server.hostsPath))

	resp := server.handleRead()
	assert.False(t, resp.IsOK())
	assert.Equal(t, protocol.ErrCodeReadFailed, resp.Code)
}

func TestServer_HandleWrite(t *testing.T) {
	t.Run("valid content", func(t *testing.T) {
		server := setupTestServer(t)
		content := "127.0.0.1\tlocalhost\n10.0.0.1\tapi.local\n"

		resp := server.handleRequest(request(t, protocol.RequestWrite, protocol.WritePayload{Content: []byte(content)}), rootPeer)
		require.True(t, resp.IsOK(), resp.Message)

		written, err := os.ReadFile(server.hostsPath)
		require.NoError(t, err)
		assert.Equal(t, content, string(written))

		assert.NotEmpty(t, *server.flushes, "DNS flush should follow a write")
		assert.Equal(t, float64(len(content)), testutil.ToFloat64(server.metrics.BytesWritten))
		assert.Contains(t, server.audit.String(), `"action":"write"`)
	})

	t.Run("flush failure does not fail the write", func(t *testing.T) {
		server := setupTestServer(t)
		server.flusher.goos = "plan9"

		resp := server.handleRequest(request(t, protocol.RequestWrite, protocol.WritePayload{Content: []byte("x")}), rootPeer)
		assert.True(t, resp.IsOK())
		assert.Equal(t, float64(1), testutil.ToFloat64(server.metrics.FlushFailures))
	})

	t.Run("too large", func(t *testing.T) {
		server := setupTestServer(t)
		big := bytes.Repeat([]byte("a"), protocol.MaxContentSize+1)

		resp := server.handleRequest(request(t, protocol.RequestWrite, protocol.WritePayload{Content: big}), rootPeer)
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)

		written, err := os.ReadFile(server.hostsPath)
		require.NoError(t, err)
		assert.Equal(t, testHosts, string(written))
	})

	t.Run("invalid utf8", func(t *testing.T) {
		server := setupTestServer(t)
		resp := server.handleRequest(request(t, protocol.RequestWrite, protocol.WritePayload{Content: []byte{0xff, 0xfe}}), rootPeer)
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
	})

	t.Run("invalid payload", func(t *testing.T) {
		server := setupTestServer(t)
		req := &protocol.Request{Type: protocol.RequestWrite, Payload: json.RawMessage(`{invalid`)}
		resp := server.handleRequest(req, rootPeer)
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
	})

	t.Run("missing payload", func(t *testing.T) {
		server := setupTestServer(t)
		resp := server.handleRequest(&protocol.Request{Type: protocol.RequestWrite}, rootPeer)
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
	})

	t.Run("write failure", func(t *testing.T) {
		server := setupTestServer(t)
		server.store.hostsPath = filepath.Join(filepath.Dir(server.hostsPath), "missing", "hosts")

		resp := server.handleRequest(request(t, protocol.RequestWrite, protocol.WritePayload{Content: []byte("x")}), rootPeer)
		assert.Equal(t, protocol.ErrCodeWriteFailed, resp.Code)
		assert.Contains(t, server.audit.String(), `"success":false`)
	})
}

func TestServer_HandleBackupAndRestore(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleRequest(request(t, protocol.RequestBackup, nil), rootPeer)
	require.True(t, resp.IsOK(), resp.Message)
	var backup protocol.BackupData
	require.NoError(t, resp.ParseData(&backup))
	assert.True(t, strings.HasPrefix(backup.Name, "hosts."))

	require.NoError(t, os.WriteFile(server.hostsPath, []byte("changed\n"), 0644))

	resp = server.handleRequest(request(t, protocol.RequestRestore, protocol.RestorePayload{Name: backup.Name}), rootPeer)
	require.True(t, resp.IsOK(), resp.Message)
	var restored protocol.RestoreData
	require.NoError(t, resp.ParseData(&restored))
	assert.Equal(t, backup.Name, restored.Name)

	content, err := os.ReadFile(server.hostsPath)
	require.NoError(t, err)
	assert.Equal(t, testHosts, string(content))

	resp = server.handleRequest(request(t, protocol.RequestBackups, nil), rootPeer)
	var list protocol.BackupsData
	require.NoError(t, resp.ParseData(&list))
	assert.Len(t, list.Backups, 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(server.metrics.Backups))
	assert.Equal(t, float64(1), testutil.ToFloat64(server.metrics.Restores.WithLabelValues("ok")))
}

func TestServer_HandleRestore_Latest(t *testing.T) {
	server := setupTestServer(t)

	_, err := server.store.CreateBackup()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(server.hostsPath, []byte("changed\n"), 0644))

	// No payload selects the newest backup.
	resp := server.handleRequest(&protocol.Request{Type: protocol.RequestRestore}, rootPeer)
	require.True(t, resp.IsOK(), resp.Message)

	content, err := os.ReadFile(server.hostsPath)
	require.NoError(t, err)
	assert.Equal(t, testHosts, string(content))
}

func TestServer_HandleRestore_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  *protocol.Request
		code protocol.ErrorCode
	}{
		{"no backups", &protocol.Request{Type: protocol.RequestRestore}, protocol.ErrCodeNotFound},
		{"traversal", request(t, protocol.RequestRestore, protocol.RestorePayload{Name: "../../etc/passwd"}), protocol.ErrCodeInvalidRequest},
		{"unknown backup", request(t, protocol.RequestRestore, protocol.RestorePayload{Name: "hosts.20200101-000000.000.bak"}), protocol.ErrCodeNotFound},
		{"bad payload", &protocol.Request{Type: protocol.RequestRestore, Payload: json.RawMessage(`[`)}, protocol.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t)
			resp := server.handleRequest(tt.req, rootPeer)
			assert.False(t, resp.IsOK())
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestServer_HandleBackup_Failure(t *testing.T) {
	server := setupTestServer(t)
	require.NoError(t, os.Remove(server.hostsPath))

	resp := server.handleRequest(request(t, protocol.RequestBackup, nil), rootPeer)
	assert.Equal(t, protocol.ErrCodeBackupFailed, resp.Code)
}

func TestServer_HandleRequest_UnknownType(t *testing.T) {
	server := setupTestServer(t)

	resp := server.handleRequest(&protocol.Request{Type: "unknown_type"}, rootPeer)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
}

func TestServer_IsAuthorized(t *testing.T) {
	server := setupTestServer(t)

	t.Run("root user", func(t *testing.T) {
		assert.True(t, server.isAuthorized(rootPeer))
	})

	t.Run("nil credentials", func(t *testing.T) {
		assert.False(t, server.isAuthorized(nil))
	})

	t.Run("no socket group", func(t *testing.T) {
		assert.False(t, server.isAuthorized(&PeerCredentials{UID: 1000, GID: 1000, PID: 2}))
	})

	t.Run("primary group matches", func(t *testing.T) {
		server.socketGID = 4242
		defer func() { server.socketGID = -1 }()
		assert.True(t, server.isAuthorized(&PeerCredentials{UID: 1000, GID: 4242, PID: 2}))
	})
}

func TestServer_ApplySettings(t *testing.T) {
	server := setupTestServer(t)

	settings := config.Default().Settings
	settings.FlushMethod = config.FlushMethodNone
	settings.MaxBackups = 2
	server.ApplySettings(settings)

	assert.Equal(t, config.FlushMethodNone, server.flusher.Method())
	assert.Equal(t, 2, server.store.maxBackups)
}

// startTestServer serves on the socket with every peer authorized.
func startTestServer(t *testing.T) *testServer {
	server := setupTestServer(t)
	server.authorize = func(*PeerCredentials) bool { return true }
	require.NoError(t, server.Start())
	return server
}

func dial(t *testing.T, server *testServer) (net.Conn, *json.Encoder, *bufio.Scanner) {
	conn, err := net.Dial("unix", server.socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return conn, json.NewEncoder(conn), scanner
}

func readResponse(t *testing.T, scanner *bufio.Scanner) *protocol.Response {
	require.True(t, scanner.Scan(), "expected a response line")
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return &resp
}

func TestServer_StartStop(t *testing.T) {
	server := startTestServer(t)

	info, err := os.Stat(server.socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0660), info.Mode().Perm())

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())

	_, err = os.Stat(server.socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_EchoesRequestID(t *testing.T) {
	server := startTestServer(t)
	_, enc, scanner := dial(t, server)

	for _, id := range []uint64{7, 8, 9} {
		req := request(t, protocol.RequestPing, nil)
		req.ID = id
		require.NoError(t, enc.Encode(req))
	}
	for _, id := range []uint64{7, 8, 9} {
		resp := readResponse(t, scanner)
		assert.Equal(t, id, resp.ID)
		assert.True(t, resp.IsOK())
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(server.metrics.Requests.WithLabelValues("ping", "ok")))
}

func TestServer_InvalidJSON(t *testing.T) {
	server := startTestServer(t)
	conn, enc, scanner := dial(t, server)

	_, err := conn.Write([]byte("{nope\n"))
	require.NoError(t, err)
	resp := readResponse(t, scanner)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)

	// The connection stays usable.
	require.NoError(t, enc.Encode(request(t, protocol.RequestPing, nil)))
	resp = readResponse(t, scanner)
	assert.True(t, resp.IsOK())
}

func TestServer_RateLimited(t *testing.T) {
	server := setupTestServer(t)
	server.authorize = func(*PeerCredentials) bool { return true }
	server.rateLimiter = NewRateLimiter(1, time.Minute)
	server.peerCreds = func(net.Conn) *PeerCredentials { return &PeerCredentials{UID: 1000, PID: 55} }
	require.NoError(t, server.Start())

	_, enc, scanner := dial(t, server)
	req := request(t, protocol.RequestPing, nil)
	req.ID = 1
	require.NoError(t, enc.Encode(req))
	req.ID = 2
	require.NoError(t, enc.Encode(req))

	assert.True(t, readResponse(t, scanner).IsOK())
	resp := readResponse(t, scanner)
	assert.Equal(t, uint64(2), resp.ID)
	assert.Equal(t, protocol.ErrCodeRateLimited, resp.Code)
}

func TestServer_Unauthorized(t *testing.T) {
	server := setupTestServer(t)
	server.authorize = func(*PeerCredentials) bool { return false }
	require.NoError(t, server.Start())

	_, _, scanner := dial(t, server)
	resp := readResponse(t, scanner)
	assert.Equal(t, protocol.ErrCodeUnauthorized, resp.Code)
	assert.False(t, scanner.Scan(), "connection should be closed")
	assert.Contains(t, server.audit.String(), "unauthorized access attempt")
}

func TestServer_StopClosesConnections(t *testing.T) {
	server := startTestServer(t)
	_, enc, scanner := dial(t, server)

	require.NoError(t, enc.Encode(request(t, protocol.RequestPing, nil)))
	readResponse(t, scanner)

	require.NoError(t, server.Stop())
	assert.False(t, scanner.Scan())
}

func BenchmarkServer_HandlePing(b *testing.B) {
	server := setupTestServer(b)
	req := request(b, protocol.RequestPing, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		server.handleRequest(req, rootPeer)
	}
}

func BenchmarkServer_HandleRead(b *testing.B) {
	server := setupTestServer(b)
	req := request(b, protocol.RequestRead, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		server.handleRequest(req, rootPeer)
	}
}
