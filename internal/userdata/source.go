// Package userdata provides the synchronisation orchestrator that keeps a
// user's configuration data (settings, keybindings, global state, extensions)
// in sync with a remote sync store.
//
// The package is organised around three collaborators:
//
//   - Synchroniser: owns pull/push/sync/accept/reset for one resource kind
//   - RemoteStore: client to the remote sync store (manifest + reset)
//   - StateStore: machine-local persisted sync metadata (session id, last sync time)
//
// The Service type coordinates these into consistent multi-resource sync
// rounds, aggregates status and conflicts across synchronisers, and notifies
// registered observers of changes.
package userdata

// SyncStatus describes the state of a synchroniser, or the aggregate state
// of the whole service.
type SyncStatus int

const (
	// StatusUninitialized means the sync store is not configured.
	StatusUninitialized SyncStatus = iota
	// StatusIdle means no sync activity is in progress and no conflicts
	// are outstanding.
	StatusIdle
	// StatusSyncing means a sync round is in progress.
	StatusSyncing
	// StatusHasConflicts means local and remote content diverged and could
	// not be merged automatically.
	StatusHasConflicts
)

// String returns a human-readable representation of the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusHasConflicts:
		return "has conflicts"
	default:
		return "unknown"
	}
}

// SyncSource identifies a synchroniser variant. It is stable across a
// session and is used to route accept/resolve calls and to tag errors.
type SyncSource string

const (
	// SourceSettings is the settings.json synchroniser.
	SourceSettings SyncSource = "settings"
	// SourceKeybindings is the keybindings.json synchroniser.
	SourceKeybindings SyncSource = "keybindings"
	// SourceGlobalState is the global state (storage.json) synchroniser.
	SourceGlobalState SyncSource = "globalState"
	// SourceExtensions is the installed-extensions synchroniser.
	SourceExtensions SyncSource = "extensions"
)

// ResourceKey identifies a resource type in the remote store. It is
// distinct from SyncSource: content resolution is keyed by resource, not by
// synchroniser, although the two are currently 1:1.
type ResourceKey string

const (
	// ResourceSettings is the remote resource key for settings content.
	ResourceSettings ResourceKey = "settings"
	// ResourceKeybindings is the remote resource key for keybindings content.
	ResourceKeybindings ResourceKey = "keybindings"
	// ResourceGlobalState is the remote resource key for global state content.
	ResourceGlobalState ResourceKey = "globalState"
	// ResourceExtensions is the remote resource key for extensions content.
	ResourceExtensions ResourceKey = "extensions"
)

// Manifest is the remote store's descriptor of the current session and the
// latest known version ref per resource. A manifest is immutable once
// fetched; a new fetch produces a new value. A nil *Manifest means the
// remote store holds no data.
type Manifest struct {
	// SessionID identifies continuity of a synced session across rounds
	// and machines.
	SessionID string

	// Latest maps each resource key to its latest version ref.
	Latest map[ResourceKey]string
}

// Ref returns the latest version ref for the given resource key, or the
// empty string if the manifest has no entry for it.
func (m *Manifest) Ref(key ResourceKey) string {
	if m == nil {
		return ""
	}
	return m.Latest[key]
}
