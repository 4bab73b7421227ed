package validation

import (
	"errors"
	"net/netip"
	"regexp"
	"strings"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
)

// MaxHostnameLength is the longest fully qualified name accepted.
const MaxHostnameLength = 253

// labelRegex matches one RFC 1123 label: 1-63 chars, no hyphen at either end.
var labelRegex = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateAddress checks that s is an IPv4 or IPv6 literal.
func ValidateAddress(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return &Error{Kind: KindEmptyAddress}
	}
	if _, err := netip.ParseAddr(trimmed); err != nil {
		return &Error{Kind: KindInvalidAddress, Value: trimmed}
	}
	return nil
}

// ValidateHostname checks s against RFC 1123.
func ValidateHostname(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return &Error{Kind: KindEmptyHostname}
	}
	if len(trimmed) > MaxHostnameLength {
		return &Error{Kind: KindInvalidHostname, Value: trimmed}
	}
	for _, label := range strings.Split(trimmed, ".") {
		if !labelRegex.MatchString(label) {
			return &Error{Kind: KindInvalidHostname, Value: trimmed}
		}
	}
	return nil
}

// ValidateComment rejects comments that would span several lines.
func ValidateComment(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return &Error{Kind: KindInvalidComment, Value: s}
	}
	return nil
}

// IsValidAddress is ValidateAddress as a predicate.
func IsValidAddress(s string) bool {
	return ValidateAddress(s) == nil
}

// IsValidHostname is ValidateHostname as a predicate.
func IsValidHostname(s string) bool {
	return ValidateHostname(s) == nil
}

// ValidateEntry checks e for insertion into f and returns the first problem.
// The entry's own id is ignored by the duplicate check, so updates pass.
// Reserved hostnames may neither be dropped from the entry that holds them
// nor added to any other.
func ValidateEntry(e hosts.Entry, f *hosts.File) error {
	if errs := check(e, f, true, true); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CollectEntry is ValidateEntry reporting every problem instead of the first.
func CollectEntry(e hosts.Entry, f *hosts.File) []error {
	return check(e, f, false, true)
}

// ValidateNotReserved rejects any protected system hostname.
func ValidateNotReserved(hostnames []string) error {
	for _, h := range hostnames {
		if hosts.IsReserved(h) {
			return &Error{Kind: KindReservedHostname, Value: h}
		}
	}
	return nil
}

// ValidateImported checks every entry of an imported file. Hostnames shared
// between entries are tolerated; the result joins all problems found.
func ValidateImported(f *hosts.File) error {
	var errs []error
	for _, e := range f.Entries() {
		errs = append(errs, check(e, nil, false, false)...)
	}
	return errors.Join(errs...)
}

func check(e hosts.Entry, f *hosts.File, failFast, checkCount bool) []error {
	var errs []error
	seen := make(map[string]bool)
	add := func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		if !seen[msg] {
			seen[msg] = true
			errs = append(errs, err)
		}
		return failFast
	}

	if add(ValidateAddress(e.Address)) {
		return errs
	}
	if len(e.Hostnames) == 0 {
		add(&Error{Kind: KindEmptyHostname})
		return errs
	}
	if checkCount && len(e.Hostnames) > hosts.MaxHostnamesPerEntry {
		if add(&Error{Kind: KindTooManyHostnames, Count: len(e.Hostnames), Max: hosts.MaxHostnamesPerEntry}) {
			return errs
		}
	}
	for _, h := range e.Hostnames {
		if add(ValidateHostname(h)) {
			return errs
		}
		name := strings.TrimSpace(h)
		if f != nil && f.Contains(name, e.ID) {
			if add(&Error{Kind: KindDuplicateHostname, Value: name}) {
				return errs
			}
		}
	}
	if f != nil {
		for _, err := range reservedChanges(e, f) {
			if add(err) {
				return errs
			}
		}
	}
	add(ValidateComment(e.Comment))
	return errs
}

// reservedChanges reports reserved hostnames that e drops compared with the
// stored entry of the same id, then those it introduces.
func reservedChanges(e hosts.Entry, f *hosts.File) []error {
	next := make(map[string]bool, len(e.Hostnames))
	for _, h := range e.Hostnames {
		next[strings.TrimSpace(h)] = true
	}
	held := make(map[string]bool)
	if prev, ok := f.Lookup(e.ID); ok {
		for _, h := range prev.Hostnames {
			if hosts.IsReserved(h) {
				held[h] = true
			}
		}
	}

	var errs []error
	for _, name := range hosts.ReservedHostnames() {
		if held[name] && !next[name] {
			errs = append(errs, &Error{Kind: KindReservedHostname, Value: name})
		}
	}
	var introduced []string
	for _, h := range e.Hostnames {
		name := strings.TrimSpace(h)
		if !held[name] {
			introduced = append(introduced, name)
		}
	}
	if err := ValidateNotReserved(introduced); err != nil {
		errs = append(errs, err)
	}
	return errs
}
