package cache

import "github.com/cockroachdb/errors"

var (
	// ErrNotInitialized is returned when an operation runs before the cache path is known.
	ErrNotInitialized = errors.New("cache: cache path not set")
	// ErrEmptyKey is returned when a key argument is empty.
	ErrEmptyKey = errors.New("cache: key must not be empty")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache: closed")
	// ErrCorruptEntry marks a stored entry that could not be decoded.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

func assertKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
