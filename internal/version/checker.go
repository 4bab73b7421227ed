// Package version compares the client build against the running helper.
package version

import (
	"fmt"
	"strings"
)

// Relation describes how the helper version relates to the client version.
type Relation int

const (
	// Unknown means one side has no comparable version.
	Unknown Relation = iota
	// Match means both sides report the same version.
	Match
	// HelperOlder means the helper predates the client.
	HelperOlder
	// HelperNewer means the helper is ahead of the client.
	HelperNewer
)

// String returns a short label for the relation.
func (r Relation) String() string {
	switch r {
	case Match:
		return "match"
	case HelperOlder:
		return "helper-older"
	case HelperNewer:
		return "helper-newer"
	default:
		return "unknown"
	}
}

// Skew is the result of comparing the client and helper versions.
type Skew struct {
	Client   string
	Helper   string
	Relation Relation
}

// Mismatch reports whether the versions are known to differ.
func (s Skew) Mismatch() bool {
	return s.Relation == HelperOlder || s.Relation == HelperNewer
}

// Message formats a user-facing note, or returns "" when nothing needs saying.
func (s Skew) Message() string {
	switch s.Relation {
	case HelperOlder:
		return fmt.Sprintf("Helper %s is older than client %s, reinstall the helper", s.Helper, s.Client)
	case HelperNewer:
		return fmt.Sprintf("Helper %s is newer than client %s, update the client", s.Helper, s.Client)
	default:
		return ""
	}
}

// Compare checks the helper version against the client version. Development
// builds and versions the helper could not report compare as Unknown.
func Compare(clientVersion, helperVersion string) Skew {
	s := Skew{
		Client: normalizeVersion(clientVersion),
		Helper: normalizeVersion(helperVersion),
	}
	if !comparable(s.Client) || !comparable(s.Helper) {
		return s
	}

	switch {
	case isNewerVersion(s.Client, s.Helper):
		s.Relation = HelperOlder
	case isNewerVersion(s.Helper, s.Client):
		s.Relation = HelperNewer
	default:
		s.Relation = Match
	}
	return s
}

// comparable rejects empty, "dev" and "unknown" style versions.
func comparable(v string) bool {
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "dev", "unknown":
		return false
	}
	return v[0] >= '0' && v[0] <= '9'
}

// normalizeVersion removes 'v' or 'V' prefix and trims whitespace
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	return v
}

// isNewerVersion compares two semver-like versions.
// Returns true if latest is newer than current.
func isNewerVersion(latest, current string) bool {
	latestParts := parseVersion(latest)
	currentParts := parseVersion(current)

	for i := 0; i < len(latestParts) && i < len(currentParts); i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}

	// 1.0.1 > 1.0
	return len(latestParts) > len(currentParts)
}

// parseVersion splits a version string into numeric parts
func parseVersion(v string) []int {
	// Drop -beta, -rc1, +build and similar suffixes.
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))

	for _, p := range parts {
		var num int
		fmt.Sscanf(p, "%d", &num)
		result = append(result, num)
	}

	return result
}
