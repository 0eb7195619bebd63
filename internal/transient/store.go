// Package transient abstracts the expiring key-value store backing the rate
// limiter and the fingerprint counter. Entries disappear when their TTL
// elapses; there is no explicit teardown.
package transient

import "time"

// Store holds TTL-bound counters and flags. Implementations must be safe for
// concurrent use. Incr must preserve the key's remaining TTL so that counter
// windows are fixed, not sliding: refreshing the window on every hit would
// change the admission behaviour at window boundaries.
type Store interface {
	// Get returns the counter value, or ok=false when the key is absent
	// or its TTL has elapsed.
	Get(key string) (value int64, ok bool, err error)

	// Set writes value with the given TTL, replacing any existing entry.
	Set(key string, value int64, ttl time.Duration) error

	// Incr atomically increments an existing key, preserving its TTL, and
	// returns the new value. Incrementing an absent key creates it without
	// an expiry; callers are expected to Set first.
	Incr(key string) (int64, error)
}

// Flag keys are plain counters set to 1; presence is the signal.

// SetFlag marks key for ttl.
func SetFlag(s Store, key string, ttl time.Duration) error {
	return s.Set(key, 1, ttl)
}

// HasFlag reports whether key is currently set.
func HasFlag(s Store, key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}
