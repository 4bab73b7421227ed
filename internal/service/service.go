// Package service keeps the authoritative in-memory hosts file and applies
// edits to it through the privileged helper.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
	"github.com/lukaszraczylo/hostsmanager/internal/validation"
)

var (
	ErrOperationNotPermitted = errors.New("operation not permitted")
	ErrInvalidFileFormat     = errors.New("invalid hosts file format")
	ErrEntryNotFound         = errors.New("entry not found")
)

// Helper performs the privileged file operations.
type Helper interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, content []byte) error
	Backup(ctx context.Context) error
	Restore(ctx context.Context) error
	CheckConnection(ctx context.Context) bool
}

// Status describes the service's last known state.
type Status struct {
	Loading      bool
	LastError    error
	LastModified time.Time
	Entries      int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service owns the hosts file model. Edits are validated, written through
// the helper, and only then become visible; a failed write leaves the
// model as it was.
type Service struct {
	helper Helper
	log    zerolog.Logger

	// op serialises whole operations so edits never interleave.
	op sync.Mutex

	mu           sync.RWMutex
	file         *hosts.File
	loading      bool
	lastErr      error
	lastModified time.Time
}

// New creates a service with an empty model. Call Load to populate it.
func New(helper Helper, opts ...Option) *Service {
	s := &Service{
		helper: helper,
		log:    log.With().Str("component", "file-service").Logger(),
		file:   hosts.NewFile(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current model.
func (s *Service) Snapshot() *hosts.File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Clone()
}

// Status returns loading state, last error and last modification time.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Loading:      s.loading,
		LastError:    s.lastErr,
		LastModified: s.lastModified,
		Entries:      s.file.Len(),
	}
}

// Load reads and parses the hosts file, replacing the model.
func (s *Service) Load(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)

	data, err := s.helper.Read(ctx)
	if err == nil && !utf8.Valid(data) {
		err = ErrInvalidFileFormat
	}
	if err != nil {
		s.recordError(err)
		s.log.Error().Err(err).Msg("Failed to load hosts file")
		return err
	}

	parsed := hosts.Parse(string(data))

	s.mu.Lock()
	s.file = parsed
	s.lastModified = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info().Int("entries", parsed.Len()).Msg("Loaded hosts file")
	return nil
}

// Reload is Load for callers that only look at Status.
func (s *Service) Reload(ctx context.Context) {
	_ = s.Load(ctx)
}

// Save writes the current model, backing up the existing file first.
func (s *Service) Save(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.save(ctx, s.Snapshot())
}

// save backs up and writes f, then makes it the model.
func (s *Service) save(ctx context.Context, f *hosts.File) error {
	s.setLoading(true)
	defer s.setLoading(false)

	content := []byte(f.Serialize())

	if err := s.helper.Backup(ctx); err != nil {
		s.recordError(err)
		s.log.Error().Err(err).Msg("Backup before save failed, hosts file left untouched")
		return err
	}
	if err := s.helper.Write(ctx, content); err != nil {
		s.recordError(err)
		s.log.Error().Err(err).Msg("Failed to save hosts file")
		return err
	}

	s.mu.Lock()
	s.file = f
	s.lastModified = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info().Int("entries", f.Len()).Int("bytes", len(content)).Msg("Saved hosts file")
	return nil
}

// mutate applies fn to a copy of the model and saves the copy.
func (s *Service) mutate(ctx context.Context, fn func(f *hosts.File) error) error {
	s.op.Lock()
	defer s.op.Unlock()

	draft := s.Snapshot()
	if err := fn(draft); err != nil {
		return err
	}
	return s.save(ctx, draft)
}

// AddEntry validates e against the model and saves it. Surrounding
// whitespace is trimmed first.
func (s *Service) AddEntry(ctx context.Context, e hosts.Entry) error {
	e = e.Normalized()
	return s.mutate(ctx, func(f *hosts.File) error {
		if err := validation.ValidateEntry(e, f); err != nil {
			return err
		}
		f.Upsert(e)
		s.log.Debug().Str("host", e.PrimaryHostname()).Msg("Adding entry")
		return nil
	})
}

// UpdateEntry validates e and replaces the entry with the same id. System
// entries keep their reserved hostnames.
func (s *Service) UpdateEntry(ctx context.Context, e hosts.Entry) error {
	e = e.Normalized()
	return s.mutate(ctx, func(f *hosts.File) error {
		if _, ok := f.Lookup(e.ID); !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, e.ID)
		}
		if err := validation.ValidateEntry(e, f); err != nil {
			return err
		}
		f.Upsert(e)
		return nil
	})
}

// DeleteEntry removes a non-system entry.
func (s *Service) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	return s.DeleteEntries(ctx, id)
}

// DeleteEntries removes several entries at once. If any of them is a system
// entry nothing is removed.
func (s *Service) DeleteEntries(ctx context.Context, ids ...uuid.UUID) error {
	return s.mutate(ctx, func(f *hosts.File) error {
		found := 0
		for _, id := range ids {
			e, ok := f.Lookup(id)
			if !ok {
				continue
			}
			found++
			if e.IsSystemEntry() {
				return fmt.Errorf("%w: cannot delete system entry %s", ErrOperationNotPermitted, e.PrimaryHostname())
			}
		}
		if found == 0 {
			return ErrEntryNotFound
		}
		f.RemoveIDs(ids...)
		return nil
	})
}

// ToggleEntry flips an entry between enabled and disabled. The address must
// be an IP literal, since a disabled line with anything else reads back as
// a comment.
func (s *Service) ToggleEntry(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, func(f *hosts.File) error {
		e, ok := f.Lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		if err := validation.ValidateAddress(e.Address); err != nil {
			return err
		}
		f.Upsert(e.Toggled())
		return nil
	})
}

// ImportFrom replaces the model with the hosts file read from r. Every
// entry must carry a valid address and valid hostnames.
func (s *Service) ImportFrom(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read import: %w", err)
	}
	if !utf8.Valid(data) {
		return ErrInvalidFileFormat
	}
	parsed := hosts.Parse(string(data))
	if err := validation.ValidateImported(parsed); err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()
	if err := s.save(ctx, parsed); err != nil {
		return err
	}
	s.log.Info().Int("entries", parsed.Len()).Msg("Imported hosts file")
	return nil
}

// ExportTo writes the serialized model to w. The helper is not involved.
func (s *Service) ExportTo(w io.Writer) error {
	content := s.Snapshot().Serialize()
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("failed to export hosts file: %w", err)
	}
	return nil
}

// CreateBackup asks the helper for a backup of the current file.
func (s *Service) CreateBackup(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.helper.Backup(ctx); err != nil {
		s.recordError(err)
		return err
	}
	s.log.Info().Msg("Created hosts file backup")
	return nil
}

// RestoreFromBackup restores the latest backup and reloads the model.
func (s *Service) RestoreFromBackup(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.helper.Restore(ctx); err != nil {
		s.recordError(err)
		return err
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("Restored hosts file from backup")
	return nil
}

// RetryConnection re-checks the helper and reloads when it answers.
func (s *Service) RetryConnection(ctx context.Context) bool {
	if !s.helper.CheckConnection(ctx) {
		return false
	}
	s.Reload(ctx)
	return true
}

func (s *Service) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
