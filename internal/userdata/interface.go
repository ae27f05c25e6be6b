package userdata

import "context"

// Synchroniser owns bidirectional sync logic for one resource category.
//
// The orchestrator never inspects a synchroniser's internal conflict or
// merge algorithm; it drives the synchroniser through these entry points
// and observes its status.
//
// A synchroniser signals an unresolvable divergence by moving its status to
// StatusHasConflicts, not by returning an error. Errors are reserved for
// operational failures (I/O, store access).
type Synchroniser interface {
	// Source identifies this synchroniser variant.
	Source() SyncSource

	// ResourceKey identifies the remote resource this synchroniser owns.
	ResourceKey() ResourceKey

	// Status reports the synchroniser's current state.
	Status() SyncStatus

	// Pull replaces local content with the latest remote content,
	// discarding any outstanding conflict.
	Pull(ctx context.Context) error

	// Push replaces remote content with the local content, discarding
	// any outstanding conflict.
	Push(ctx context.Context) error

	// Sync reconciles local content against the remote version ref taken
	// from the manifest. An empty ref means the remote has no data for
	// this resource.
	Sync(ctx context.Context, remoteRef string) error

	// Stop abandons any in-progress or conflicted sync and returns the
	// synchroniser to idle.
	Stop(ctx context.Context) error

	// Accept resolves an outstanding conflict with the given content,
	// applying it both locally and remotely.
	Accept(ctx context.Context, content string) error

	// RemoteContent returns the latest remote content, or the conflict
	// preview when preview is true and a conflict is outstanding. Returns
	// the empty string when no content exists.
	RemoteContent(ctx context.Context, preview bool) (string, error)

	// ResolveContent returns the remote content stored under the given
	// version ref, or the empty string if absent.
	ResolveContent(ctx context.Context, ref string) (string, error)

	// HasPreviouslySynced reports whether this synchroniser has ever
	// completed a sync on this machine.
	HasPreviouslySynced() (bool, error)

	// HasLocalData reports whether local content exists for this
	// resource.
	HasLocalData() (bool, error)

	// ResetLocal clears all machine-local sync bookkeeping for this
	// resource. The local content itself is left alone.
	ResetLocal(ctx context.Context) error

	// OnStatusChange registers fn to run whenever the synchroniser's
	// status changes. The returned func removes the registration.
	OnStatusChange(fn func(SyncStatus)) (remove func())

	// OnLocalChange registers fn to run whenever local content changes
	// outside of a sync operation. The returned func removes the
	// registration.
	OnLocalChange(fn func()) (remove func())
}

// RemoteStore is the client to the remote sync store, as seen by the
// orchestrator. Content read/write per resource goes through the
// synchronisers and is not part of this interface.
type RemoteStore interface {
	// Manifest fetches the remote manifest. A nil manifest with a nil
	// error means the remote store holds no data.
	Manifest(ctx context.Context) (*Manifest, error)

	// IsEnabled reports whether sync is enabled at all. Every service
	// operation fails with ErrNotEnabled while this is false.
	IsEnabled() bool

	// IsConfigured reports whether the store has been set up. While
	// false the aggregate status is StatusUninitialized.
	IsConfigured() bool

	// Reset clears all remote data, starting a fresh session.
	Reset(ctx context.Context) error
}

// Persisted state keys owned by the orchestrator. Both live in a global,
// machine-local scope and are read at startup and written on status
// transitions only.
const (
	// KeySessionID stores the remote session id last seen by this machine.
	KeySessionID = "sync.sessionId"

	// KeyLastSyncTime stores the completion time of the last successful
	// round, as epoch milliseconds.
	KeyLastSyncTime = "sync.lastSyncTime"
)

// StateStore persists machine-local sync metadata. Implementations must
// survive process restarts; the orchestrator reads it once at construction
// and writes only on transitions.
type StateStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// Telemetry is the side channel for operational metrics. The only event
// the orchestrator reports is a store-capacity failure.
type Telemetry interface {
	// RecordTooLarge notes that the given source hit the remote store's
	// size limit.
	RecordTooLarge(source SyncSource)
}

type nopTelemetry struct{}

func (nopTelemetry) RecordTooLarge(SyncSource) {}
