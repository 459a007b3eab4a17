package auth

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultKeyTTL is how long granted keys last unless the host session
	// ends sooner
	DefaultKeyTTL = time.Hour

	// DefaultMinKeyTTL is the shortest key lifetime worth granting. Clients
	// re-acquire five minutes before expiry, so anything shorter would loop.
	DefaultMinKeyTTL = 10 * time.Minute
)

// KeyParams identifies the subject of a key.
type KeyParams struct {
	Channel     string
	User        string
	DisplayName string
	Extra       string
	Permissions string
	KeyTime     int64 // expiry, milliseconds since epoch

	// AllowSystem permits the reserved system channel
	AllowSystem bool
}

// AuthKey is a capability: whoever holds Digest and KeyTime may act on Channel
// with Permissions until KeyTime passes.
type AuthKey struct {
	Channel     string
	User        string
	DisplayName string
	Extra       string
	Permissions Permissions
	KeyTime     int64
	Digest      string
}

// Validate checks every field of the key parameters.
func (p KeyParams) Validate() error {
	if !ValidChannel(p.Channel, p.AllowSystem) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, p.Channel)
	}
	if !ValidUser(p.User) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, p.User)
	}
	if !ValidDisplayName(p.DisplayName) {
		return fmt.Errorf("%w: %q", ErrInvalidDisplayName, p.DisplayName)
	}
	if !ValidExtra(p.Extra) {
		return fmt.Errorf("%w: %q", ErrInvalidExtra, p.Extra)
	}
	if _, err := ParsePermissions(p.Permissions); err != nil {
		return fmt.Errorf("%w: %q", err, p.Permissions)
	}
	return nil
}

// DeriveKey computes the key digest for the given subject. The digest is the
// lowercase hex SHA-1 of the newline-joined fields followed by the shared
// secret; the chat server performs the same computation.
func DeriveKey(p KeyParams, magicNumber string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return digest(p, magicNumber), nil
}

// NewAuthKey derives a complete key for the given subject.
func NewAuthKey(p KeyParams, magicNumber string) (AuthKey, error) {
	d, err := DeriveKey(p, magicNumber)
	if err != nil {
		return AuthKey{}, err
	}
	return AuthKey{
		Channel:     p.Channel,
		User:        p.User,
		DisplayName: p.DisplayName,
		Extra:       p.Extra,
		Permissions: Permissions(p.Permissions),
		KeyTime:     p.KeyTime,
		Digest:      d,
	}, nil
}

// ValidateKey recomputes the digest for key and checks that it has not
// expired at now.
func ValidateKey(key AuthKey, magicNumber string, now time.Time) error {
	expected, err := DeriveKey(KeyParams{
		Channel:     key.Channel,
		User:        key.User,
		DisplayName: key.DisplayName,
		Extra:       key.Extra,
		Permissions: string(key.Permissions),
		KeyTime:     key.KeyTime,
		AllowSystem: true,
	}, magicNumber)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(key.Digest))) != 1 {
		return ErrKeyMismatch
	}
	if now.UnixMilli() >= key.KeyTime {
		return ErrKeyExpired
	}
	return nil
}

func digest(p KeyParams, magicNumber string) string {
	var b strings.Builder
	b.WriteString(p.Channel)
	b.WriteByte('\n')
	b.WriteString(p.User)
	b.WriteByte('\n')
	b.WriteString(p.DisplayName)
	b.WriteByte('\n')
	b.WriteString(p.Extra)
	b.WriteByte('\n')
	b.WriteString(p.Permissions)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(p.KeyTime, 10))
	b.WriteByte('\n')
	b.WriteString(magicNumber)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeKeyTime returns the absolute expiry for a key granted at nowMillis
// lasting ttlMillis. The result is truncated to whole seconds so that every
// server parses the same value.
func ComputeKeyTime(nowMillis, ttlMillis int64) int64 {
	return (nowMillis + ttlMillis) / 1000 * 1000
}

// KeyPolicy decides how long granted keys last.
type KeyPolicy struct {
	TTL    time.Duration
	MinTTL time.Duration
}

// DefaultKeyPolicy returns a one hour policy with a ten minute floor.
func DefaultKeyPolicy() KeyPolicy {
	return KeyPolicy{TTL: DefaultKeyTTL, MinTTL: DefaultMinKeyTTL}
}

// EffectiveTTL returns the TTL capped by the host session timeout. A zero
// sessionTimeout means the host session does not expire.
func (p KeyPolicy) EffectiveTTL(sessionTimeout time.Duration) (time.Duration, error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if sessionTimeout > 0 && sessionTimeout < ttl {
		ttl = sessionTimeout
	}
	if ttl < p.MinTTL {
		return 0, fmt.Errorf("%w: %s < %s", ErrSessionTooShort, ttl, p.MinTTL)
	}
	return ttl, nil
}

// KeyTime returns the expiry for a key granted at now.
func (p KeyPolicy) KeyTime(now time.Time, sessionTimeout time.Duration) (int64, error) {
	ttl, err := p.EffectiveTTL(sessionTimeout)
	if err != nil {
		return 0, err
	}
	return ComputeKeyTime(now.UnixMilli(), ttl.Milliseconds()), nil
}
