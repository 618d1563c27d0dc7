package syncengine

import "errors"

var (
	ErrNotInitialized = errors.New("syncengine: not initialized")
)

// SyncError wraps the transport-level failure that aborted a sync() run.
type SyncError struct {
	Err error
}

func (e SyncError) Error() string { return "syncengine: sync_failed: " + e.Err.Error() }
func (e SyncError) Unwrap() error { return e.Err }
