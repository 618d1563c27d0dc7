package storage

import "fmt"

// ErrNotInitialized is returned by any operation called before Initialize.
var ErrNotInitialized = fmt.Errorf("storage: not initialized")

// Errorf wraps a lower-level storage failure (I/O, codec, encryption) so
// callers can recognize it uniformly as a storage-layer error.
func Errorf(format string, args ...any) error {
	return fmt.Errorf("storage: "+format, args...)
}
