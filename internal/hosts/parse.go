package hosts

import (
	"net/netip"
	"strings"
)

// Parse reads hosts file text. It never fails: lines it cannot make sense of
// are dropped.
//
// Comment lines at the top form the header. A comment whose body looks like
// a mapping ("# 10.0.0.1 host") is a disabled entry. Other comments after
// the first entry are kept as trailing comments.
func Parse(text string) *File {
	f := &File{}
	inHeader := true

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}

		e, ok := parseLine(line)
		if ok {
			inHeader = false
			f.entries = append(f.entries, e)
			continue
		}
		if !strings.HasPrefix(line, "#") {
			// Malformed data line.
			inHeader = false
			continue
		}
		if inHeader {
			f.Header = append(f.Header, line)
		} else {
			f.Trailing = append(f.Trailing, line)
		}
	}

	if len(f.Header) == 0 {
		f.Header = append([]string(nil), DefaultHeader...)
	}
	return f
}

// parseLine turns one trimmed, non-empty line into an entry.
func parseLine(line string) (Entry, bool) {
	enabled := true
	if strings.HasPrefix(line, "#") {
		enabled = false
		line = strings.TrimPrefix(line, "#")
	}

	data, comment := line, ""
	if i := strings.IndexByte(line, '#'); i >= 0 {
		data = line[:i]
		comment = strings.TrimSpace(line[i+1:])
	}

	fields := strings.Fields(data)
	if len(fields) < 2 {
		return Entry{}, false
	}
	// Plain comments would otherwise turn into disabled entries.
	if !enabled && !isIPLiteral(fields[0]) {
		return Entry{}, false
	}

	opts := []EntryOption{WithComment(comment)}
	if !enabled {
		opts = append(opts, Disabled())
	}
	return NewEntry(fields[0], fields[1:], opts...), true
}

func isIPLiteral(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
