package cache

import "io"

// Backend stores opaque byte values with an absolute expiration time.
// All times are Unix seconds.
type Backend interface {
	// Get returns the value stored under key.
	// Returns:
	//   v: a copy owned by the caller
	//   storedTime: when the value was stored
	//   expire: when the value expires
	//   ok: false if not found or expired
	Get(key string) (v []byte, storedTime, expire int64, ok bool)

	// Store caches v until expire. v is copied by the backend.
	// Values that are already expired are ignored.
	Store(key string, v []byte, expire int64)

	Len() int

	io.Closer
}
