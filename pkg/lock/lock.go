// Package lock serializes work on accounts. Transactions touching the same
// account are processed one at a time; keys are always taken in sorted order
// so two transfers in opposite directions cannot deadlock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrLockTimeout is returned when a lock could not be acquired before the context ended
	ErrLockTimeout = errors.New("lock: acquisition timed out")

	// ErrInvalidKey is returned when a lock key is empty or malformed
	ErrInvalidKey = errors.New("lock: invalid key")
)

// IsTimeout checks if the error indicates a lock was not acquired in time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Release frees every key taken by one Lock call. It is safe to call more than once.
type Release func()

// Locker acquires exclusive ownership of a set of keys.
type Locker interface {
	// Lock blocks until every key is held or ctx ends.
	Lock(ctx context.Context, keys ...string) (Release, error)
	Name() string
	Close() error
}

// ValidateKey checks if a lock key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 250 {
		return fmt.Errorf("%w: key too long (max 250 characters)", ErrInvalidKey)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	return nil
}

// KeyPattern builds lock keys with a common prefix.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{prefix: prefix, separator: separator}
}

// Build joins the prefix and parts.
// Example: pattern.Build("42") -> "account:42"
func (kp *KeyPattern) Build(parts ...string) string {
	result := kp.prefix
	for _, part := range parts {
		result += kp.separator + part
	}
	return result
}

var accountKeys = NewKeyPattern("account", ":")

// AccountKeys returns the lock keys for the given account IDs. Zero IDs are skipped.
func AccountKeys(ids ...int64) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		keys = append(keys, accountKeys.Build(strconv.FormatInt(id, 10)))
	}
	return keys
}

// normalize validates keys and returns them sorted without duplicates.
func normalize(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if err := ValidateKey(k); err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
