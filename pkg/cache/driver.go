package cache

import (
	"encoding/gob"
)

func init() {
	gob.Register(map[string]itemWithTTL{})
}

// Driver is the KV store shared by resource metadata, the search index and the
// static asset lookup cache. Keys are plain strings, callers namespace them with
// their own prefix.
type Driver interface {
	// Set stores value under key. A positive ttl expires it after that many seconds.
	Set(key string, value any, ttl int) error

	// Get returns the value under key and whether it was found.
	Get(key string) (any, bool)

	// Delete removes prefix+key for every key. Without keys, every entry starting
	// with prefix is removed.
	Delete(prefix string, keys ...string) error

	// Persist writes the store to path. Stores that outlive the process do nothing.
	Persist(path string) error
}
