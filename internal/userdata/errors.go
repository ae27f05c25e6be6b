package userdata

import (
	"errors"
	"fmt"
)

// Common errors returned by sync operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, userdata.ErrSessionExpired) {
//	    // Remote session changed under us; a fresh sync is required.
//	}
var (
	// ErrNotEnabled is returned when an operation is invoked while the
	// sync store is not enabled. No state is mutated.
	ErrNotEnabled = errors.New("sync is not enabled")

	// ErrTurnedOff is returned by Sync when the remote store has no data
	// but at least one synchroniser has previously completed a sync,
	// meaning sync was turned off from another machine. The round aborts
	// before any synchroniser runs.
	ErrTurnedOff = errors.New("sync was turned off on the server")

	// ErrSessionExpired is returned by Sync when the remote manifest
	// carries a different session id than the one persisted locally. The
	// round aborts before any synchroniser runs.
	ErrSessionExpired = errors.New("sync session has expired")

	// ErrTooLarge is returned when content exceeds the remote store's
	// size limit. Unlike other per-resource failures it always propagates
	// out of a round.
	ErrTooLarge = errors.New("content is too large to store")

	// ErrSyncInProgress is returned when a round is requested while
	// another round is still in flight. Rounds never interleave.
	ErrSyncInProgress = errors.New("a sync round is already in progress")

	// ErrNoSynchroniser is returned when an operation names a source or
	// resource key that no registered synchroniser owns.
	ErrNoSynchroniser = errors.New("no synchroniser for source")
)

// SyncError tags a per-resource failure with the synchroniser it came from.
// The Service accumulates these per round, replacing the previous round's
// accumulation.
type SyncError struct {
	// Source is the synchroniser that failed.
	Source SyncSource

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e SyncError) Unwrap() error {
	return e.Err
}
