// Package auth implements the Hawthorn key protocol: deriving and validating
// channel access keys, computing key expiry times, and the escaping helpers
// used when identities are embedded into URLs, scripts and markup.
package auth

import (
	"errors"
	"regexp"
	"strings"
)

// SystemChannel is the reserved administrative channel. Keys for it are only
// derived when the caller explicitly allows it.
const SystemChannel = "!system"

var (
	ErrInvalidChannel     = errors.New("invalid channel ID")
	ErrInvalidUser        = errors.New("invalid user ID")
	ErrInvalidDisplayName = errors.New("invalid display name")
	ErrInvalidExtra       = errors.New("invalid extra data")
	ErrInvalidPermissions = errors.New("invalid permissions")
	ErrSessionTooShort    = errors.New("session expires too soon to grant a key")
	ErrKeyExpired         = errors.New("key has expired")
	ErrKeyMismatch        = errors.New("key does not match")
	ErrInvalidEscape      = errors.New("invalid escaped identifier")
)

// identifierPattern matches channel and user IDs
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Permission is a single permission code
type Permission byte

const (
	PermRead     Permission = 'r'
	PermWrite    Permission = 'w'
	PermModerate Permission = 'm'
	PermAdmin    Permission = 'a' // view logs and statistics
)

// permissionOrder is the canonical order permission codes must appear in
var permissionOrder = []Permission{PermRead, PermWrite, PermModerate, PermAdmin}

// Permissions is a permission string such as "rw" or "rwma".
type Permissions string

// ParsePermissions checks that s only contains permission codes, each at most
// once and in canonical order (r, w, m, a). An empty string is valid and grants
// nothing.
func ParsePermissions(s string) (Permissions, error) {
	pos := 0
	for _, p := range permissionOrder {
		if pos == len(s) {
			break
		}
		if s[pos] == byte(p) {
			pos++
		}
	}
	if pos != len(s) {
		return "", ErrInvalidPermissions
	}
	return Permissions(s), nil
}

// Has reports whether the permission string includes p.
func (p Permissions) Has(perm Permission) bool {
	return strings.IndexByte(string(p), byte(perm)) != -1
}

// String returns the permission codes
func (p Permissions) String() string {
	return string(p)
}

// ValidChannel reports whether channel is a usable channel ID. The system
// channel is only accepted when allowSystem is set.
func ValidChannel(channel string, allowSystem bool) bool {
	if identifierPattern.MatchString(channel) {
		return true
	}
	return allowSystem && channel == SystemChannel
}

// ValidUser reports whether user is a sanitized user ID
func ValidUser(user string) bool {
	return identifierPattern.MatchString(user)
}

// ValidDisplayName reports whether name is non-empty and safe to embed in
// generated script.
func ValidDisplayName(name string) bool {
	return name != "" && embeddable(name)
}

// ValidExtra reports whether extra is safe to embed. Unlike display names,
// extra data may be empty.
func ValidExtra(extra string) bool {
	return embeddable(extra)
}

// embeddable rejects control characters and double quotes
func embeddable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == '"' {
			return false
		}
	}
	return true
}
