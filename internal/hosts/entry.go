// Package hosts models the contents of a hosts file: individual address
// mappings and the file they live in.
package hosts

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownHostname is returned by PrimaryHostname for an entry without names.
const UnknownHostname = "Unknown"

// MaxHostnamesPerEntry caps the aliases a single line may carry.
const MaxHostnamesPerEntry = 20

// reservedHostnames are the names the operating system relies on.
var reservedHostnames = []string{"localhost", "broadcasthost"}

// ReservedHostnames returns the protected system hostnames.
func ReservedHostnames() []string {
	return slices.Clone(reservedHostnames)
}

// IsReserved reports whether name is a protected system hostname.
func IsReserved(name string) bool {
	return slices.Contains(reservedHostnames, name)
}

// Entry is one address-to-hostnames mapping.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Address    string    `json:"address"`
	Hostnames  []string  `json:"hostnames"`
	Enabled    bool      `json:"enabled"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// EntryOption customises a new entry.
type EntryOption func(*Entry)

// Disabled creates the entry commented out.
func Disabled() EntryOption {
	return func(e *Entry) { e.Enabled = false }
}

// WithComment attaches an inline comment.
func WithComment(comment string) EntryOption {
	return func(e *Entry) { e.Comment = comment }
}

// NewEntry creates an enabled entry with a fresh id.
func NewEntry(address string, hostnames []string, opts ...EntryOption) Entry {
	now := time.Now()
	e := Entry{
		ID:         uuid.New(),
		Address:    address,
		Hostnames:  slices.Clone(hostnames),
		Enabled:    true,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// PrimaryHostname returns the first hostname, or UnknownHostname.
func (e Entry) PrimaryHostname() string {
	if len(e.Hostnames) == 0 {
		return UnknownHostname
	}
	return e.Hostnames[0]
}

// AdditionalHostnames returns every hostname after the primary one.
func (e Entry) AdditionalHostnames() []string {
	if len(e.Hostnames) < 2 {
		return nil
	}
	return slices.Clone(e.Hostnames[1:])
}

// IsSystemEntry reports whether the entry maps a reserved hostname.
func (e Entry) IsSystemEntry() bool {
	for _, h := range e.Hostnames {
		if IsReserved(h) {
			return true
		}
	}
	return false
}

// FormatLine renders the entry as a single hosts file line.
func (e Entry) FormatLine() string {
	var b strings.Builder
	if !e.Enabled {
		b.WriteString("# ")
	}
	b.WriteString(e.Address)
	b.WriteByte('\t')
	b.WriteString(strings.Join(e.Hostnames, " "))
	if e.Comment != "" {
		b.WriteString(" # ")
		b.WriteString(lineBreaks.Replace(e.Comment))
	}
	return b.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Normalized returns a copy with surrounding whitespace trimmed from the
// address, every hostname and the comment.
func (e Entry) Normalized() Entry {
	out := cloneEntry(e)
	out.Address = strings.TrimSpace(out.Address)
	for i, h := range out.Hostnames {
		out.Hostnames[i] = strings.TrimSpace(h)
	}
	out.Comment = strings.TrimSpace(out.Comment)
	return out
}

// Key identifies the mapping an entry expresses, independent of its id.
type Key struct {
	Address   string
	Hostnames string
	Enabled   bool
}

// Key returns the entry's (address, hostnames, enabled) tuple.
func (e Entry) Key() Key {
	return Key{Address: e.Address, Hostnames: strings.Join(e.Hostnames, " "), Enabled: e.Enabled}
}

// Update lists the fields to change on an entry. Nil fields are kept.
type Update struct {
	Address   *string
	Hostnames []string
	Enabled   *bool
	Comment   *string
}

// With returns a copy of e with u applied and ModifiedAt refreshed.
// The receiver is left untouched.
func (e Entry) With(u Update) Entry {
	out := e
	out.Hostnames = slices.Clone(e.Hostnames)
	if u.Address != nil {
		out.Address = *u.Address
	}
	if u.Hostnames != nil {
		out.Hostnames = slices.Clone(u.Hostnames)
	}
	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.Comment != nil {
		out.Comment = *u.Comment
	}
	out.ModifiedAt = touch(e.ModifiedAt)
	return out
}

// Toggled returns a copy of e with Enabled flipped.
func (e Entry) Toggled() Entry {
	enabled := !e.Enabled
	return e.With(Update{Enabled: &enabled})
}

// touch returns the current time, never earlier than prev.
func touch(prev time.Time) time.Time {
	now := time.Now()
	if now.Before(prev) {
		return prev
	}
	return now
}

// Less orders system entries first, then by primary hostname ignoring case.
func Less(a, b Entry) bool {
	return Compare(a, b) < 0
}

// Compare is the three-way form of Less, suitable for slices.SortFunc.
func Compare(a, b Entry) int {
	as, bs := a.IsSystemEntry(), b.IsSystemEntry()
	if as != bs {
		if as {
			return -1
		}
		return 1
	}
	if c := strings.Compare(strings.ToLower(a.PrimaryHostname()), strings.ToLower(b.PrimaryHostname())); c != 0 {
		return c
	}
	if c := strings.Compare(a.Address, b.Address); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

// Ptr returns a pointer to v. Handy when building an Update.
func Ptr[T any](v T) *T {
	return &v
}
