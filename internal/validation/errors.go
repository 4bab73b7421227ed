// Package validation checks addresses, hostnames and whole entries before
// they are written to the hosts file.
package validation

import "fmt"

// Kind identifies a class of validation failure.
type Kind int

const (
	KindEmptyAddress Kind = iota + 1
	KindInvalidAddress
	KindEmptyHostname
	KindInvalidHostname
	KindDuplicateHostname
	KindReservedHostname
	KindTooManyHostnames
	KindInvalidComment
)

// Error describes one rejected value.
type Error struct {
	Kind  Kind
	Value string
	Count int
	Max   int
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrEmptyAddress      = &Error{Kind: KindEmptyAddress}
	ErrInvalidAddress    = &Error{Kind: KindInvalidAddress}
	ErrEmptyHostname     = &Error{Kind: KindEmptyHostname}
	ErrInvalidHostname   = &Error{Kind: KindInvalidHostname}
	ErrDuplicateHostname = &Error{Kind: KindDuplicateHostname}
	ErrReservedHostname  = &Error{Kind: KindReservedHostname}
	ErrTooManyHostnames  = &Error{Kind: KindTooManyHostnames}
	ErrInvalidComment    = &Error{Kind: KindInvalidComment}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindEmptyAddress:
		return "IP address cannot be empty"
	case KindInvalidAddress:
		return fmt.Sprintf("invalid IP address: '%s'", e.Value)
	case KindEmptyHostname:
		return "at least one hostname is required"
	case KindInvalidHostname:
		return fmt.Sprintf("invalid hostname: '%s'", e.Value)
	case KindDuplicateHostname:
		return fmt.Sprintf("duplicate hostname: '%s'", e.Value)
	case KindReservedHostname:
		return fmt.Sprintf("reserved hostname cannot be modified: '%s'", e.Value)
	case KindTooManyHostnames:
		return fmt.Sprintf("too many hostnames (%d), maximum allowed: %d", e.Count, e.Max)
	case KindInvalidComment:
		return fmt.Sprintf("comment must be a single line: %q", e.Value)
	default:
		return "validation failed"
	}
}

// Is reports whether target is a validation error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Hint returns a short remediation for the user.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindEmptyAddress:
		return "Enter an IP address"
	case KindInvalidAddress:
		return "Please enter a valid IPv4 (e.g., 192.168.1.1) or IPv6 (e.g., ::1) address"
	case KindEmptyHostname:
		return "Enter at least one hostname"
	case KindInvalidHostname:
		return "Hostnames must follow RFC 1123 standards. Use only letters, numbers, dots, and hyphens"
	case KindDuplicateHostname:
		return "This hostname already exists in the hosts file"
	case KindReservedHostname:
		return "System hostnames like 'localhost' and 'broadcasthost' are protected"
	case KindTooManyHostnames:
		return "Remove some hostnames or split into multiple entries"
	case KindInvalidComment:
		return "Remove line breaks from the comment"
	default:
		return ""
	}
}
