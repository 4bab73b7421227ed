package hosts

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DefaultHeader is written when a parsed file carried no header of its own.
var DefaultHeader = []string{
	"##",
	"# Host Database",
	"#",
	"# localhost is used to configure the loopback interface",
	"# when the system is booting.  Do not change this entry.",
	"##",
}

// File is the in-memory form of a hosts file.
type File struct {
	Header   []string
	entries  []Entry
	Trailing []string
}

// NewFile returns an empty file with the default header.
func NewFile(entries ...Entry) *File {
	f := &File{Header: slices.Clone(DefaultHeader)}
	for _, e := range entries {
		f.Upsert(e)
	}
	return f
}

// Len returns the number of entries.
func (f *File) Len() int {
	return len(f.entries)
}

// Entries returns the entries in insertion order.
func (f *File) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	for i, e := range f.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Sorted returns the entries in serialization order.
func (f *File) Sorted() []Entry {
	out := f.Entries()
	slices.SortStableFunc(out, Compare)
	return out
}

// SystemEntries returns entries mapping a reserved hostname.
func (f *File) SystemEntries() []Entry {
	var out []Entry
	for _, e := range f.entries {
		if e.IsSystemEntry() {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// Lookup finds an entry by id.
func (f *File) Lookup(id uuid.UUID) (Entry, bool) {
	for _, e := range f.entries {
		if e.ID == id {
			return cloneEntry(e), true
		}
	}
	return Entry{}, false
}

// Upsert replaces the entry with the same id, or appends it.
func (f *File) Upsert(e Entry) {
	e = cloneEntry(e)
	for i := range f.entries {
		if f.entries[i].ID == e.ID {
			f.entries[i] = e
			return
		}
	}
	f.entries = append(f.entries, e)
}

// Remove deletes the entry with the given id. It reports whether one existed.
func (f *File) Remove(id uuid.UUID) bool {
	n := len(f.entries)
	f.entries = slices.DeleteFunc(f.entries, func(e Entry) bool { return e.ID == id })
	return len(f.entries) != n
}

// RemoveIDs deletes every entry whose id is listed and returns how many went.
func (f *File) RemoveIDs(ids ...uuid.UUID) int {
	n := len(f.entries)
	f.entries = slices.DeleteFunc(f.entries, func(e Entry) bool { return slices.Contains(ids, e.ID) })
	return n - len(f.entries)
}

// Contains reports whether an entry other than excluding maps hostname.
// Pass uuid.Nil to check every entry.
func (f *File) Contains(hostname string, excluding uuid.UUID) bool {
	for _, e := range f.entries {
		if e.ID == excluding {
			continue
		}
		if slices.Contains(e.Hostnames, hostname) {
			return true
		}
	}
	return false
}

// DuplicateHostnames lists hostnames claimed by more than one entry.
// Hand-edited files can contain these; the parser keeps them.
func (f *File) DuplicateHostnames() map[string][]uuid.UUID {
	owners := make(map[string][]uuid.UUID)
	for _, e := range f.entries {
		seen := make(map[string]bool, len(e.Hostnames))
		for _, h := range e.Hostnames {
			if seen[h] {
				continue
			}
			seen[h] = true
			owners[h] = append(owners[h], e.ID)
		}
	}
	for h, ids := range owners {
		if len(ids) < 2 {
			delete(owners, h)
		}
	}
	return owners
}

// Clone returns a deep copy.
func (f *File) Clone() *File {
	out := &File{
		Header:   slices.Clone(f.Header),
		Trailing: slices.Clone(f.Trailing),
		entries:  make([]Entry, 0, len(f.entries)),
	}
	for _, e := range f.entries {
		out.entries = append(out.entries, cloneEntry(e))
	}
	return out
}

// Serialize renders the file: header, blank line, sorted entries, then any
// trailing comments. The result always ends with a newline.
func (f *File) Serialize() string {
	var b strings.Builder
	header := f.Header
	if len(header) == 0 {
		header = DefaultHeader
	}
	for _, line := range header {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	for _, e := range f.Sorted() {
		b.WriteString(e.FormatLine())
		b.WriteByte('\n')
	}
	if len(f.Trailing) > 0 {
		b.WriteByte('\n')
		for _, line := range f.Trailing {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func cloneEntry(e Entry) Entry {
	e.Hostnames = slices.Clone(e.Hostnames)
	return e
}
