package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
	"github.com/lukaszraczylo/hostsmanager/internal/ipc"
	"github.com/lukaszraczylo/hostsmanager/internal/validation"
)

const sampleHosts = `##
# Host Database
##
127.0.0.1	localhost
255.255.255.255	broadcasthost
10.0.0.1	api.local web.local
# 10.0.0.2	old.local
`

// fakeHelper stands in for the IPC client and records every call.
type fakeHelper struct {
	mu         sync.Mutex
	content    []byte
	calls      []string
	readErr    error
	writeErr   error
	backupErr  error
	restoreErr error
	connected  bool
	backup     []byte
}

func newFakeHelper(content string) *fakeHelper {
	return &fakeHelper{content: []byte(content), connected: true}
}

func (h *fakeHelper) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *fakeHelper) Read(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("read")
	if h.readErr != nil {
		return nil, h.readErr
	}
	return bytes.Clone(h.content), nil
}

func (h *fakeHelper) Write(ctx context.Context, content []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("write")
	if h.writeErr != nil {
		return h.writeErr
	}
	h.content = bytes.Clone(content)
	return nil
}

func (h *fakeHelper) Backup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("backup")
	if h.backupErr != nil {
		return h.backupErr
	}
	h.backup = bytes.Clone(h.content)
	return nil
}

func (h *fakeHelper) Restore(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("restore")
	if h.restoreErr != nil {
		return h.restoreErr
	}
	h.content = bytes.Clone(h.backup)
	return nil
}

func (h *fakeHelper) CheckConnection(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("check")
	return h.connected
}

func (h *fakeHelper) count(call string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (h *fakeHelper) callLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHelper) written() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.content)
}

func newLoadedService(t *testing.T, h *fakeHelper) *Service {
	t.Helper()
	s := New(h, WithLogger(zerolog.Nop()))
	require.NoError(t, s.Load(context.Background()))
	return s
}

func findEntry(t *testing.T, f *hosts.File, hostname string) hosts.Entry {
	t.Helper()
	for _, e := range f.Entries() {
		for _, h := range e.Hostnames {
			if h == hostname {
				return e
			}
		}
	}
	t.Fatalf("no entry for %s", hostname)
	return hosts.Entry{}
}

func TestService_Load(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	snap := s.Snapshot()
	assert.Equal(t, 4, snap.Len())
	assert.Equal(t, []string{"##", "# Host Database", "##"}, snap.Header)

	st := s.Status()
	assert.False(t, st.Loading)
	assert.NoError(t, st.LastError)
	assert.False(t, st.LastModified.IsZero())
	assert.Equal(t, 4, st.Entries)
}

func TestService_LoadFailureKeepsModel(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	h.readErr = ipc.ErrConnectionFailed
	err := s.Load(context.Background())
	assert.ErrorIs(t, err, ipc.ErrConnectionFailed)

	st := s.Status()
	assert.ErrorIs(t, st.LastError, ipc.ErrConnectionFailed)
	assert.False(t, st.Loading)
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_LoadRejectsInvalidUTF8(t *testing.T) {
	h := newFakeHelper("")
	h.content = []byte{0xff, 0xfe, 0x00}
	s := New(h, WithLogger(zerolog.Nop()))

	err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrInvalidFileFormat)
	assert.ErrorIs(t, s.Status().LastError, ErrInvalidFileFormat)
}

func TestService_Reload(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	h.readErr = errors.New("boom")
	s.Reload(context.Background())
	assert.EqualError(t, s.Status().LastError, "boom")

	h.readErr = nil
	s.Reload(context.Background())
	assert.NoError(t, s.Status().LastError)
}

func TestService_AddEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	e := hosts.NewEntry("10.0.0.9", []string{"new.local"})
	require.NoError(t, s.AddEntry(context.Background(), e))

	assert.Equal(t, []string{"read", "backup", "write"}, h.callLog())
	assert.Contains(t, h.written(), "10.0.0.9\tnew.local\n")

	got, ok := s.Snapshot().Lookup(e.ID)
	require.True(t, ok)
	assert.Equal(t, "new.local", got.PrimaryHostname())
}

func TestService_AddDuplicateHostname(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	err := s.AddEntry(context.Background(), hosts.NewEntry("10.0.0.9", []string{"web.local"}))
	assert.ErrorIs(t, err, validation.ErrDuplicateHostname)
	assert.Zero(t, h.count("write"))
	assert.Zero(t, h.count("backup"))
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_AddInvalidEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	err := s.AddEntry(context.Background(), hosts.NewEntry("999.1.1.1", []string{"x.local"}))
	assert.ErrorIs(t, err, validation.ErrInvalidAddress)
	assert.Zero(t, h.count("write"))
}

func TestService_FailedWriteRollsBack(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	before := s.Snapshot().Serialize()

	h.writeErr = ipc.ErrWriteFailed
	err := s.AddEntry(context.Background(), hosts.NewEntry("10.0.0.9", []string{"new.local"}))
	assert.ErrorIs(t, err, ipc.ErrWriteFailed)

	assert.Equal(t, before, s.Snapshot().Serialize())
	assert.ErrorIs(t, s.Status().LastError, ipc.ErrWriteFailed)
	assert.False(t, s.Status().Loading)
}

func TestService_BackupFailurePreventsWrite(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	entry := findEntry(t, s.Snapshot(), "api.local")

	h.backupErr = ipc.ErrBackupFailed
	err := s.ToggleEntry(context.Background(), entry.ID)
	assert.ErrorIs(t, err, ipc.ErrBackupFailed)
	assert.Zero(t, h.count("write"))

	got, _ := s.Snapshot().Lookup(entry.ID)
	assert.True(t, got.Enabled)
}

func TestService_UpdateEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	entry := findEntry(t, s.Snapshot(), "api.local")

	updated := entry.With(hosts.Update{Hostnames: []string{"api.local", "web.local", "admin.local"}})
	require.NoError(t, s.UpdateEntry(context.Background(), updated), "own hostnames are not duplicates")
	assert.Contains(t, h.written(), "10.0.0.1\tapi.local web.local admin.local\n")

	err := s.UpdateEntry(context.Background(), hosts.NewEntry("10.0.0.1", []string{"ghost.local"}))
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestService_UpdateIntoDuplicate(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	entry := findEntry(t, s.Snapshot(), "old.local")

	err := s.UpdateEntry(context.Background(), entry.With(hosts.Update{Hostnames: []string{"api.local"}}))
	assert.ErrorIs(t, err, validation.ErrDuplicateHostname)
	assert.Zero(t, h.count("write"))
}

func TestService_DeleteSystemEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	local := findEntry(t, s.Snapshot(), "localhost")

	err := s.DeleteEntry(context.Background(), local.ID)
	assert.ErrorIs(t, err, ErrOperationNotPermitted)
	assert.Zero(t, h.count("write"))
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_DeleteEntries(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	snap := s.Snapshot()
	api := findEntry(t, snap, "api.local")
	old := findEntry(t, snap, "old.local")
	bcast := findEntry(t, snap, "broadcasthost")

	err := s.DeleteEntries(context.Background(), api.ID, bcast.ID)
	assert.ErrorIs(t, err, ErrOperationNotPermitted)
	assert.Equal(t, 4, s.Snapshot().Len(), "nothing removed when a system entry is targeted")

	require.NoError(t, s.DeleteEntries(context.Background(), api.ID, old.ID))
	assert.Equal(t, 2, s.Snapshot().Len())
	assert.NotContains(t, h.written(), "api.local")
	assert.NotContains(t, h.written(), "old.local")

	assert.ErrorIs(t, s.DeleteEntry(context.Background(), uuid.New()), ErrEntryNotFound)
}

func TestService_ToggleEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	old := findEntry(t, s.Snapshot(), "old.local")
	require.False(t, old.Enabled)

	require.NoError(t, s.ToggleEntry(context.Background(), old.ID))

	got, _ := s.Snapshot().Lookup(old.ID)
	assert.True(t, got.Enabled)
	assert.False(t, got.ModifiedAt.Before(old.ModifiedAt))
	assert.Contains(t, h.written(), "\n10.0.0.2\told.local\n")

	assert.ErrorIs(t, s.ToggleEntry(context.Background(), uuid.New()), ErrEntryNotFound)
}

func TestService_SaveBacksUpFirst(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, []string{"read", "backup", "write"}, h.callLog())
}

func TestService_Import(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	in := "127.0.0.1 localhost\n10.1.1.1 one.local\n10.1.1.2 one.local two.local\n"
	require.NoError(t, s.ImportFrom(context.Background(), strings.NewReader(in)))

	assert.Equal(t, 3, s.Snapshot().Len())
	assert.Contains(t, h.written(), "10.1.1.2\tone.local two.local\n")
	assert.Equal(t, 1, h.count("backup"))
}

func TestService_ImportRejectsInvalid(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	err := s.ImportFrom(context.Background(), strings.NewReader("bogus one.local\n"))
	assert.ErrorIs(t, err, validation.ErrInvalidAddress)

	err = s.ImportFrom(context.Background(), bytes.NewReader([]byte{0xc3, 0x28}))
	assert.ErrorIs(t, err, ErrInvalidFileFormat)

	assert.Zero(t, h.count("write"))
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_Export(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	var buf bytes.Buffer
	require.NoError(t, s.ExportTo(&buf))
	assert.Equal(t, s.Snapshot().Serialize(), buf.String())
	assert.Equal(t, []string{"read"}, h.callLog(), "export never calls the helper")
}

func TestService_BackupAndRestore(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	require.NoError(t, s.CreateBackup(context.Background()))
	require.NoError(t, s.DeleteEntry(context.Background(), findEntry(t, s.Snapshot(), "api.local").ID))
	assert.Equal(t, 3, s.Snapshot().Len())

	// The save above took its own backup of the pre-delete file.
	require.NoError(t, s.RestoreFromBackup(context.Background()))
	assert.Equal(t, 4, s.Snapshot().Len())

	h.restoreErr = ipc.ErrRestoreFailed
	assert.ErrorIs(t, s.RestoreFromBackup(context.Background()), ipc.ErrRestoreFailed)

	h.backupErr = ipc.ErrBackupFailed
	assert.ErrorIs(t, s.CreateBackup(context.Background()), ipc.ErrBackupFailed)
}

func TestService_RetryConnection(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := New(h, WithLogger(zerolog.Nop()))

	h.connected = false
	assert.False(t, s.RetryConnection(context.Background()))
	assert.Zero(t, h.count("read"))

	h.connected = true
	assert.True(t, s.RetryConnection(context.Background()))
	assert.Equal(t, 1, h.count("read"))
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_SnapshotIsIsolated(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	snap := s.Snapshot()
	snap.RemoveIDs(findEntry(t, snap, "api.local").ID)
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_ConcurrentEdits(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := hosts.NewEntry("10.9.0.1", []string{"svc" + string(rune('a'+i)) + ".local"})
			assert.NoError(t, s.AddEntry(context.Background(), e))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 14, s.Snapshot().Len())
	assert.Equal(t, 14, hosts.Parse(h.written()).Len())
}

func TestService_AddMultiLineCommentRejected(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	e := hosts.NewEntry("10.9.9.9", []string{"ok.local"}, hosts.WithComment("note\n6.6.6.6 localhost evil_host"))
	err := s.AddEntry(context.Background(), e)
	assert.ErrorIs(t, err, validation.ErrInvalidComment)
	assert.Zero(t, h.count("write"))
	assert.Equal(t, 4, s.Snapshot().Len())
}

func TestService_AddPaddedHostname(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)

	err := s.AddEntry(context.Background(), hosts.NewEntry("10.0.0.9", []string{" api.local"}))
	assert.ErrorIs(t, err, validation.ErrDuplicateHostname)
	assert.Zero(t, h.count("write"))

	e := hosts.NewEntry(" 10.0.0.9", []string{"fresh.local "}, hosts.WithComment(" new "))
	require.NoError(t, s.AddEntry(context.Background(), e))
	assert.Contains(t, h.written(), "\n10.0.0.9\tfresh.local # new\n")

	got, ok := s.Snapshot().Lookup(e.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"fresh.local"}, got.Hostnames)

	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Snapshot().DuplicateHostnames())
}

func TestService_UpdateCannotRenameSystemEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	local := findEntry(t, s.Snapshot(), "localhost")

	err := s.UpdateEntry(context.Background(), local.With(hosts.Update{Hostnames: []string{"notlocal"}}))
	assert.ErrorIs(t, err, validation.ErrReservedHostname)
	assert.Zero(t, h.count("write"))
	assert.Len(t, s.Snapshot().SystemEntries(), 2)

	require.NoError(t, s.UpdateEntry(context.Background(), local.With(hosts.Update{Hostnames: []string{"localhost", "local.dev"}})))
	assert.Contains(t, h.written(), "127.0.0.1\tlocalhost local.dev\n")
}

func TestService_ReservedHostnameOnOtherEntry(t *testing.T) {
	h := newFakeHelper(sampleHosts)
	s := newLoadedService(t, h)
	api := findEntry(t, s.Snapshot(), "api.local")

	err := s.AddEntry(context.Background(), hosts.NewEntry("10.0.0.9", []string{"broadcasthost"}))
	assert.ErrorIs(t, err, validation.ErrReservedHostname)

	err = s.UpdateEntry(context.Background(), api.With(hosts.Update{Hostnames: []string{"api.local", "localhost"}}))
	assert.ErrorIs(t, err, validation.ErrReservedHostname)
	assert.Zero(t, h.count("write"))
}

func TestService_ToggleRequiresIPAddress(t *testing.T) {
	h := newFakeHelper("127.0.0.1\tlocalhost\nmyhost\talias.local\n")
	s := newLoadedService(t, h)
	odd := findEntry(t, s.Snapshot(), "alias.local")
	require.True(t, odd.Enabled)

	err := s.ToggleEntry(context.Background(), odd.ID)
	assert.ErrorIs(t, err, validation.ErrInvalidAddress)
	assert.Zero(t, h.count("write"))

	got, ok := s.Snapshot().Lookup(odd.ID)
	require.True(t, ok)
	assert.True(t, got.Enabled)
}
