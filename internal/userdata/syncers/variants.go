package syncers

import (
	"log"
	"path/filepath"

	"github.com/prefsync/prefsync/internal/userdata"
)

// NewSettings creates the synchroniser for settings.json.
func NewSettings(store ContentStore, userDataDir, stateDir string, logger *log.Logger) *FileSyncer {
	return New(store, Options{
		Source:    userdata.SourceSettings,
		Key:       userdata.ResourceSettings,
		LocalPath: filepath.Join(userDataDir, "settings.json"),
		StateDir:  stateDir,
		Logger:    logger,
	})
}

// NewKeybindings creates the synchroniser for keybindings.json.
func NewKeybindings(store ContentStore, userDataDir, stateDir string, logger *log.Logger) *FileSyncer {
	return New(store, Options{
		Source:    userdata.SourceKeybindings,
		Key:       userdata.ResourceKeybindings,
		LocalPath: filepath.Join(userDataDir, "keybindings.json"),
		StateDir:  stateDir,
		Logger:    logger,
	})
}

// NewGlobalState creates the synchroniser for global state (storage.json).
func NewGlobalState(store ContentStore, userDataDir, stateDir string, logger *log.Logger) *FileSyncer {
	return New(store, Options{
		Source:    userdata.SourceGlobalState,
		Key:       userdata.ResourceGlobalState,
		LocalPath: filepath.Join(userDataDir, "storage.json"),
		StateDir:  stateDir,
		Logger:    logger,
	})
}

// NewExtensions creates the synchroniser for the installed-extension list
// (extensions.json). Divergent extension lists are merged automatically,
// keeping the higher version of an extension installed on both sides.
func NewExtensions(store ContentStore, userDataDir, stateDir string, logger *log.Logger) *FileSyncer {
	return New(store, Options{
		Source:    userdata.SourceExtensions,
		Key:       userdata.ResourceExtensions,
		LocalPath: filepath.Join(userDataDir, "extensions.json"),
		StateDir:  stateDir,
		Merge:     MergeExtensions,
		Logger:    logger,
	})
}

// All creates the full synchroniser set in the fixed round order used by
// the orchestrator: settings, keybindings, global state, extensions.
func All(store ContentStore, userDataDir, stateDir string, logger *log.Logger) []userdata.Synchroniser {
	return []userdata.Synchroniser{
		NewSettings(store, userDataDir, stateDir, logger),
		NewKeybindings(store, userDataDir, stateDir, logger),
		NewGlobalState(store, userDataDir, stateDir, logger),
		NewExtensions(store, userDataDir, stateDir, logger),
	}
}
