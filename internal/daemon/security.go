package daemon

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// RateLimit is the maximum requests per minute per PID.
	RateLimit = 100
	// RateLimitWindow is the time window for rate limiting.
	RateLimitWindow = time.Minute
)

// pidRateBucket holds rate limiting data for a single PID using a ring buffer.
type pidRateBucket struct {
	timestamps []time.Time
	head       int
	count      int
}

func (b *pidRateBucket) active(cutoff time.Time, limit int) int {
	n := 0
	for i := 0; i < b.count; i++ {
		idx := (b.head - b.count + i + limit) % limit
		if b.timestamps[idx].After(cutoff) {
			n++
		}
	}
	return n
}

// RateLimiter implements per-PID rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int32]*pidRateBucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		buckets: make(map[int32]*pidRateBucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow checks if a request from the given PID should be allowed.
func (r *RateLimiter) Allow(pid int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, exists := r.buckets[pid]
	if !exists {
		bucket = &pidRateBucket{timestamps: make([]time.Time, r.limit)}
		r.buckets[pid] = bucket
	}

	if bucket.active(now.Add(-r.window), r.limit) >= r.limit {
		return false
	}

	bucket.timestamps[bucket.head] = now
	bucket.head = (bucket.head + 1) % r.limit
	if bucket.count < r.limit {
		bucket.count++
	}
	return true
}

// Cleanup removes PIDs with no requests inside the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for pid, bucket := range r.buckets {
		if bucket.active(cutoff, r.limit) == 0 {
			delete(r.buckets, pid)
		}
	}
}

// Tracked returns the number of PIDs currently held.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// AuditLogger writes one JSON line per privileged request.
type AuditLogger struct {
	mu     sync.Mutex
	closer io.Closer
	log    zerolog.Logger
}

// NewAuditLogger opens (or creates) the audit log at path.
func NewAuditLogger(path string) (*AuditLogger, error) {
	// #nosec G301 - Log directory permissions are intentionally 0755
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// #nosec G302,G304 - Path comes from the daemon configuration
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	a := NewAuditLoggerTo(file)
	a.closer = file
	return a, nil
}

// NewAuditLoggerTo writes audit records to w.
func NewAuditLoggerTo(w io.Writer) *AuditLogger {
	return &AuditLogger{
		log: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Log writes an audit entry. A nil peer is recorded with zero ids.
func (a *AuditLogger) Log(peer *PeerCredentials, action string, success bool, errMsg string, fields map[string]any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var uid uint32
	var pid int32
	if peer != nil {
		uid = peer.UID
		pid = peer.PID
	}

	ev := a.log.Log().
		Uint32("uid", uid).
		Int32("pid", pid).
		Str("action", action).
		Bool("success", success)
	if errMsg != "" {
		ev = ev.Str("error", errMsg)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Send()
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// PeerCredentials holds the credentials of a connected peer.
type PeerCredentials struct {
	UID uint32
	GID uint32
	PID int32
}

// isUserInGroup checks if a user (by UID) is a member of a group (by GID).
// This checks supplementary groups, not just the primary GID.
func isUserInGroup(uid uint32, targetGID uint32) bool {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return false
	}

	for _, gidStr := range groupIDs {
		gid, err := strconv.ParseUint(gidStr, 10, 32)
		if err != nil {
			continue
		}
		if uint32(gid) == targetGID {
			return true
		}
	}
	return false
}

// lookupGroupGID looks up a group by name and returns its GID.
func lookupGroupGID(name string) (int, error) {
	group, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("group not found: %s", name)
	}
	gid, err := strconv.Atoi(group.Gid)
	if err != nil {
		return 0, fmt.Errorf("invalid GID for group %s: %s", name, group.Gid)
	}
	return gid, nil
}
