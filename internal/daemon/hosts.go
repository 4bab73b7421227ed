// Package daemon implements the privileged helper that owns the hosts file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	backupPrefix     = "hosts."
	backupSuffix     = ".bak"
	backupTimeFormat = "20060102-150405.000"
)

var (
	ErrNoBackups         = errors.New("no backups available")
	ErrInvalidBackupName = errors.New("invalid backup name")
)

// BackupInfo holds information about a backup file.
type BackupInfo struct {
	Name      string
	Timestamp int64
	Size      int64
}

// FileStore reads and writes the hosts file and keeps rotated backups of it.
type FileStore struct {
	mu         sync.Mutex
	hostsPath  string
	backupDir  string
	maxBackups int
	now        func() time.Time
	log        zerolog.Logger
}

// NewFileStore creates a store for hostsPath that keeps at most maxBackups
// backups in backupDir.
func NewFileStore(hostsPath, backupDir string, maxBackups int) *FileStore {
	if maxBackups < 1 {
		maxBackups = 1
	}
	return &FileStore{
		hostsPath:  hostsPath,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		now:        time.Now,
		log:        log.With().Str("component", "file-store").Logger(),
	}
}

// HostsPath returns the managed file path.
func (s *FileStore) HostsPath() string {
	return s.hostsPath
}

// SetMaxBackups changes the rotation limit. It applies from the next backup.
func (s *FileStore) SetMaxBackups(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.maxBackups = n
	s.mu.Unlock()
}

// Read returns the raw hosts file content.
func (s *FileStore) Read() ([]byte, error) {
	// #nosec G304 - path comes from the daemon configuration
	content, err := os.ReadFile(s.hostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}
	return content, nil
}

// Write replaces the hosts file atomically.
func (s *FileStore) Write(content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(content)
}

func (s *FileStore) writeAtomic(content []byte) error {
	tmpFile := s.hostsPath + ".tmp"
	// #nosec G306 - the hosts file is world readable
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	// WriteFile is subject to umask.
	if err := os.Chmod(tmpFile, 0644); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to set hosts file permissions: %w", err)
	}
	if err := os.Rename(tmpFile, s.hostsPath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to replace hosts file: %w", err)
	}
	return nil
}

// CreateBackup copies the current hosts file into the backup directory and
// returns the backup name.
func (s *FileStore) CreateBackup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBackup()
}

func (s *FileStore) createBackup() (string, error) {
	// #nosec G301 - backup directory is readable by the group
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	content, err := s.Read()
	if err != nil {
		return "", err
	}

	name, path := s.nextBackupName()
	// #nosec G306 - backups mirror the hosts file permissions
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	if err := s.cleanupBackups(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cleanup backups")
	}
	return name, nil
}

// nextBackupName returns an unused name. Names sort in creation order.
func (s *FileStore) nextBackupName() (string, string) {
	ts := s.now()
	for {
		name := backupPrefix + ts.Format(backupTimeFormat) + backupSuffix
		path := filepath.Join(s.backupDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return name, path
		}
		ts = ts.Add(time.Millisecond)
	}
}

func (s *FileStore) cleanupBackups() error {
	names, err := s.backupNames()
	if err != nil {
		return err
	}
	if len(names) <= s.maxBackups {
		return nil
	}

	var errs []error
	for _, name := range names[s.maxBackups:] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// backupNames lists backup file names, newest first.
func (s *FileStore) backupNames() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isBackupName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func isBackupName(name string) bool {
	return filepath.Base(name) == name &&
		strings.HasPrefix(name, backupPrefix) &&
		strings.HasSuffix(name, backupSuffix) &&
		len(name) > len(backupPrefix)+len(backupSuffix)
}

// ListBackups returns the available backups, newest first.
func (s *FileStore) ListBackups() ([]BackupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.backupNames()
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.backupDir, name))
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		ts, err := time.ParseInLocation(backupTimeFormat, stamp, time.Local)
		if err != nil {
			ts = info.ModTime()
		}
		backups = append(backups, BackupInfo{
			Name:      name,
			Timestamp: ts.Unix(),
			Size:      info.Size(),
		})
	}
	return backups, nil
}

// Restore writes the named backup over the hosts file, or the newest backup
// when name is empty. The current file is backed up first. It returns the
// name of the restored backup.
func (s *FileStore) Restore(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		names, err := s.backupNames()
		if err != nil {
			return "", fmt.Errorf("failed to list backups: %w", err)
		}
		if len(names) == 0 {
			return "", ErrNoBackups
		}
		name = names[0]
	}

	if !isBackupName(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidBackupName, name)
	}

	// #nosec G304 - name is validated above
	content, err := os.ReadFile(filepath.Join(s.backupDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to read backup: %w", err)
	}

	if _, err := s.createBackup(); err != nil {
		return "", fmt.Errorf("failed to create backup before restore: %w", err)
	}

	if err := s.writeAtomic(content); err != nil {
		return "", fmt.Errorf("failed to restore backup: %w", err)
	}
	return name, nil
}
