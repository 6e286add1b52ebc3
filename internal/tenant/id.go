package tenant

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidID is returned by ValidateNewID.
	ErrInvalidID = errors.New("invalid client_id (use a-z A-Z 0-9 _ -)")

	lookupIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,40}$`)
	newIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]{2,40}$`)
)

// ParseID maps a requested tenant id to the id whose configuration should be
// served. Empty or malformed ids fall back to DefaultID; it never fails.
func ParseID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !lookupIDPattern.MatchString(raw) {
		return DefaultID
	}
	return raw
}

// ValidateNewID checks an id supplied for creating or mutating a tenant.
// Reserved ids are rejected rather than substituted.
func ValidateNewID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !newIDPattern.MatchString(raw) {
		return "", ErrInvalidID
	}
	if raw == DefaultID || raw == AgencyID {
		return "", ErrInvalidID
	}
	return raw, nil
}
