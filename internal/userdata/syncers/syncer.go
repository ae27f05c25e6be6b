// Package syncers provides the file-based synchroniser implementations for
// each user-data resource: settings, keybindings, global state and
// extensions.
//
// All four share the same core: a local JSON file, a remembered last-synced
// revision, and a three-way decision against the remote store. When both
// sides changed and no merge is possible, the synchroniser writes the
// remote content to a preview file and reports a conflict; Accept resolves
// it.
package syncers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prefsync/prefsync/internal/userdata"
)

// ContentStore is the content surface of the sync store, as seen by a
// synchroniser.
type ContentStore interface {
	// Latest returns the newest content and ref for the resource, both
	// empty when the resource has never been written.
	Latest(ctx context.Context, key userdata.ResourceKey) (content, ref string, err error)

	// Content returns the content stored under ref, or the empty string
	// if absent.
	Content(ctx context.Context, key userdata.ResourceKey, ref string) (string, error)

	// Write stores content as the next revision and returns its ref.
	Write(ctx context.Context, key userdata.ResourceKey, content string) (ref string, err error)
}

// MergeFunc attempts to merge divergent local and remote content. It
// returns the merged content and true, or false when the contents cannot
// be reconciled automatically.
type MergeFunc func(local, remote string) (merged string, ok bool)

// Options configures a FileSyncer.
type Options struct {
	// Source identifies the synchroniser variant.
	Source userdata.SyncSource

	// Key is the remote resource this synchroniser owns.
	Key userdata.ResourceKey

	// LocalPath is the user-data file kept in sync.
	LocalPath string

	// StateDir holds the synchroniser's bookkeeping: the last-synced
	// record and the conflict preview.
	StateDir string

	// Merge, when non-nil, is tried before declaring a conflict.
	Merge MergeFunc

	// Logger for sync activity. If nil, a default logger writing to
	// stderr is used.
	Logger *log.Logger
}

// lastSyncRecord remembers the revision this machine last reconciled with.
// Its content copy is the merge base for the three-way decision.
type lastSyncRecord struct {
	Ref      string    `json:"ref"`
	Content  string    `json:"content"`
	SyncedAt time.Time `json:"synced_at"`
}

// FileSyncer implements userdata.Synchroniser over a single local file.
type FileSyncer struct {
	*userdata.StatusEmitter

	store   ContentStore
	source  userdata.SyncSource
	key     userdata.ResourceKey
	local   string
	record  string
	preview string
	merge   MergeFunc
	logger  *log.Logger
}

// New creates a file synchroniser. A conflict preview left behind by a
// previous run puts the synchroniser straight into the conflicts state.
func New(store ContentStore, opts Options) *FileSyncer {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[sync:%s] ", opts.Source), log.LstdFlags)
	}

	s := &FileSyncer{
		store:   store,
		source:  opts.Source,
		key:     opts.Key,
		local:   opts.LocalPath,
		record:  filepath.Join(opts.StateDir, fmt.Sprintf("%s.lastsync.json", opts.Source)),
		preview: filepath.Join(opts.StateDir, fmt.Sprintf("%s.preview.json", opts.Source)),
		merge:   opts.Merge,
		logger:  logger,
	}

	initial := userdata.StatusIdle
	if _, err := os.Stat(s.preview); err == nil {
		initial = userdata.StatusHasConflicts
	}
	s.StatusEmitter = userdata.NewStatusEmitter(initial)

	return s
}

// Source implements userdata.Synchroniser.
func (s *FileSyncer) Source() userdata.SyncSource { return s.source }

// ResourceKey implements userdata.Synchroniser.
func (s *FileSyncer) ResourceKey() userdata.ResourceKey { return s.key }

// LocalPath returns the local file this synchroniser owns.
func (s *FileSyncer) LocalPath() string { return s.local }

// Sync reconciles the local file against the given remote ref.
func (s *FileSyncer) Sync(ctx context.Context, remoteRef string) error {
	s.SetStatus(userdata.StatusSyncing)

	local, hasLocal, err := s.readLocal()
	if err != nil {
		s.SetStatus(userdata.StatusIdle)
		return err
	}
	rec, hasRec, err := s.readRecord()
	if err != nil {
		s.SetStatus(userdata.StatusIdle)
		return err
	}

	// Remote has no data for this resource: seed it from local content
	// if there is any.
	if remoteRef == "" {
		if hasLocal {
			if err := s.pushContent(ctx, local); err != nil {
				s.SetStatus(userdata.StatusIdle)
				return err
			}
			s.logger.Printf("seeded remote from local content")
		}
		s.SetStatus(userdata.StatusIdle)
		return nil
	}

	// Remote unchanged since our last sync: push local edits, if any.
	if hasRec && remoteRef == rec.Ref {
		switch {
		case !hasLocal:
			// Local file disappeared; restore it from the remote.
			if err := s.applyRemote(ctx, rec.Content, rec.Ref); err != nil {
				s.SetStatus(userdata.StatusIdle)
				return err
			}
			s.logger.Printf("restored missing local file from remote")
		case local != rec.Content:
			if err := s.pushContent(ctx, local); err != nil {
				s.SetStatus(userdata.StatusIdle)
				return err
			}
			s.logger.Printf("pushed local changes")
		}
		s.SetStatus(userdata.StatusIdle)
		return nil
	}

	// Remote moved (or this machine has never synced).
	remote, err := s.store.Content(ctx, s.key, remoteRef)
	if err != nil {
		s.SetStatus(userdata.StatusIdle)
		return err
	}

	localChanged := (hasLocal && (!hasRec || local != rec.Content)) || (!hasLocal && hasRec)

	switch {
	case !localChanged:
		if err := s.applyRemote(ctx, remote, remoteRef); err != nil {
			s.SetStatus(userdata.StatusIdle)
			return err
		}
		s.logger.Printf("pulled remote changes (ref %s)", remoteRef)

	case local == remote:
		// Both sides arrived at the same content; just catch up the
		// bookkeeping.
		if err := s.writeRecord(remoteRef, remote); err != nil {
			s.SetStatus(userdata.StatusIdle)
			return err
		}

	default:
		if s.merge != nil {
			if merged, ok := s.merge(local, remote); ok {
				if err := s.writeLocal(merged); err != nil {
					s.SetStatus(userdata.StatusIdle)
					return err
				}
				if err := s.pushContent(ctx, merged); err != nil {
					s.SetStatus(userdata.StatusIdle)
					return err
				}
				s.logger.Printf("merged local and remote changes")
				s.SetStatus(userdata.StatusIdle)
				return nil
			}
		}

		if err := s.writePreview(remote); err != nil {
			s.SetStatus(userdata.StatusIdle)
			return err
		}
		s.logger.Printf("conflict detected; preview written")
		s.SetStatus(userdata.StatusHasConflicts)
		return nil
	}

	s.SetStatus(userdata.StatusIdle)
	return nil
}

// Pull replaces the local file with the latest remote content, discarding
// any outstanding conflict. It is a no-op when the remote has no data.
func (s *FileSyncer) Pull(ctx context.Context) error {
	s.SetStatus(userdata.StatusSyncing)

	content, ref, err := s.store.Latest(ctx, s.key)
	if err != nil {
		s.SetStatus(userdata.StatusIdle)
		return err
	}
	if ref != "" {
		if err := s.applyRemote(ctx, content, ref); err != nil {
			s.SetStatus(userdata.StatusIdle)
			return err
		}
	}

	s.clearPreview()
	s.SetStatus(userdata.StatusIdle)
	return nil
}

// Push replaces the remote content with the local file, discarding any
// outstanding conflict. It is a no-op when no local content exists.
func (s *FileSyncer) Push(ctx context.Context) error {
	s.SetStatus(userdata.StatusSyncing)

	local, hasLocal, err := s.readLocal()
	if err != nil {
		s.SetStatus(userdata.StatusIdle)
		return err
	}
	if hasLocal {
		if err := s.pushContent(ctx, local); err != nil {
			s.SetStatus(userdata.StatusIdle)
			return err
		}
	}

	s.clearPreview()
	s.SetStatus(userdata.StatusIdle)
	return nil
}

// Stop abandons any outstanding conflict and returns to idle.
func (s *FileSyncer) Stop(ctx context.Context) error {
	s.clearPreview()
	s.SetStatus(userdata.StatusIdle)
	return nil
}

// Accept resolves a conflict with the given content, applying it both
// locally and remotely.
func (s *FileSyncer) Accept(ctx context.Context, content string) error {
	if err := s.writeLocal(content); err != nil {
		return err
	}
	if err := s.pushContent(ctx, content); err != nil {
		return err
	}
	s.clearPreview()
	s.SetStatus(userdata.StatusIdle)
	return nil
}

// RemoteContent returns the conflict preview when preview is true and one
// exists, otherwise the latest remote content.
func (s *FileSyncer) RemoteContent(ctx context.Context, preview bool) (string, error) {
	if preview {
		raw, err := os.ReadFile(s.preview)
		if err == nil {
			return string(raw), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read preview: %w", err)
		}
	}

	content, _, err := s.store.Latest(ctx, s.key)
	return content, err
}

// ResolveContent returns the remote content stored under ref.
func (s *FileSyncer) ResolveContent(ctx context.Context, ref string) (string, error) {
	return s.store.Content(ctx, s.key, ref)
}

// HasPreviouslySynced reports whether a last-synced record exists on this
// machine.
func (s *FileSyncer) HasPreviouslySynced() (bool, error) {
	if _, err := os.Stat(s.record); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat sync record: %w", err)
	}
	return true, nil
}

// HasLocalData reports whether the local file exists with content.
func (s *FileSyncer) HasLocalData() (bool, error) {
	raw, err := os.ReadFile(s.local)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read local file: %w", err)
	}
	return strings.TrimSpace(string(raw)) != "", nil
}

// ResetLocal removes the synchroniser's bookkeeping. The local user-data
// file itself is left alone.
func (s *FileSyncer) ResetLocal(ctx context.Context) error {
	if err := os.Remove(s.record); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sync record: %w", err)
	}
	s.clearPreview()
	s.SetStatus(userdata.StatusIdle)
	return nil
}

// applyRemote writes remote content to the local file and records it as
// the new sync base.
func (s *FileSyncer) applyRemote(ctx context.Context, content, ref string) error {
	if err := s.writeLocal(content); err != nil {
		return err
	}
	return s.writeRecord(ref, content)
}

// pushContent writes content to the remote store and records the new ref
// as the sync base.
func (s *FileSyncer) pushContent(ctx context.Context, content string) error {
	ref, err := s.store.Write(ctx, s.key, content)
	if err != nil {
		return err
	}
	return s.writeRecord(ref, content)
}

func (s *FileSyncer) readLocal() (string, bool, error) {
	raw, err := os.ReadFile(s.local)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", s.local, err)
	}
	return string(raw), true, nil
}

func (s *FileSyncer) writeLocal(content string) error {
	if err := os.MkdirAll(filepath.Dir(s.local), 0755); err != nil {
		return fmt.Errorf("failed to create user-data directory: %w", err)
	}
	if err := os.WriteFile(s.local, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.local, err)
	}
	return nil
}

func (s *FileSyncer) readRecord() (lastSyncRecord, bool, error) {
	var rec lastSyncRecord
	raw, err := os.ReadFile(s.record)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("failed to read sync record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("sync record is corrupt: %w", err)
	}
	return rec, true, nil
}

func (s *FileSyncer) writeRecord(ref, content string) error {
	rec := lastSyncRecord{
		Ref:      ref,
		Content:  content,
		SyncedAt: time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.record), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(s.record, raw, 0644); err != nil {
		return fmt.Errorf("failed to write sync record: %w", err)
	}
	return nil
}

func (s *FileSyncer) writePreview(content string) error {
	if err := os.MkdirAll(filepath.Dir(s.preview), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(s.preview, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}

func (s *FileSyncer) clearPreview() {
	if err := os.Remove(s.preview); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("WARNING: failed to remove preview: %v", err)
	}
}
