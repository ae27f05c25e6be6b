package syncers

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prefsync/prefsync/internal/userdata"
)

// memStore is an in-memory ContentStore.
type memStore struct {
	revisions map[userdata.ResourceKey][]string
	writes    int
}

func newMemStore() *memStore {
	return &memStore{revisions: make(map[userdata.ResourceKey][]string)}
}

func (m *memStore) Latest(ctx context.Context, key userdata.ResourceKey) (string, string, error) {
	revs := m.revisions[key]
	if len(revs) == 0 {
		return "", "", nil
	}
	return revs[len(revs)-1], strconv.Itoa(len(revs)), nil
}

func (m *memStore) Content(ctx context.Context, key userdata.ResourceKey, ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return "", err
	}
	revs := m.revisions[key]
	if n < 1 || n > len(revs) {
		return "", nil
	}
	return revs[n-1], nil
}

func (m *memStore) Write(ctx context.Context, key userdata.ResourceKey, content string) (string, error) {
	m.revisions[key] = append(m.revisions[key], content)
	m.writes++
	return strconv.Itoa(len(m.revisions[key])), nil
}

// setupSyncer creates a settings synchroniser over a temp user-data dir.
func setupSyncer(t *testing.T) (*FileSyncer, *memStore, string) {
	t.Helper()

	tmpDir := t.TempDir()
	userDataDir := filepath.Join(tmpDir, "userdata")
	stateDir := filepath.Join(tmpDir, "state")
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		t.Fatalf("creating user-data dir: %v", err)
	}

	store := newMemStore()
	logger := log.New(io.Discard, "", 0)
	return NewSettings(store, userDataDir, stateDir, logger), store, userDataDir
}

func writeLocalFile(t *testing.T, s *FileSyncer, content string) {
	t.Helper()
	if err := os.WriteFile(s.LocalPath(), []byte(content), 0644); err != nil {
		t.Fatalf("writing local file: %v", err)
	}
}

func readLocalFile(t *testing.T, s *FileSyncer) string {
	t.Helper()
	raw, err := os.ReadFile(s.LocalPath())
	if err != nil {
		t.Fatalf("reading local file: %v", err)
	}
	return string(raw)
}

func TestSync_SeedsEmptyRemote(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()
	writeLocalFile(t, s, `{"theme":"dark"}`)

	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	content, ref, err := store.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != `{"theme":"dark"}` || ref != "1" {
		t.Errorf("remote = %q@%q, want local content at ref 1", content, ref)
	}

	synced, err := s.HasPreviouslySynced()
	if err != nil {
		t.Fatalf("HasPreviouslySynced() failed: %v", err)
	}
	if !synced {
		t.Error("expected a sync record after seeding")
	}
	if got := s.Status(); got != userdata.StatusIdle {
		t.Errorf("Status() = %v, want idle", got)
	}
}

func TestSync_EmptyRemoteNoLocal(t *testing.T) {
	s, store, _ := setupSyncer(t)

	if err := s.Sync(context.Background(), ""); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if store.writes != 0 {
		t.Errorf("store writes = %d, want 0", store.writes)
	}
	if synced, _ := s.HasPreviouslySynced(); synced {
		t.Error("sync record created with nothing to sync")
	}
}

func TestSync_PullsRemoteChanges(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	ref, err := store.Write(ctx, userdata.ResourceSettings, `{"theme":"light"}`)
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	if err := s.Sync(ctx, ref); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if got := readLocalFile(t, s); got != `{"theme":"light"}` {
		t.Errorf("local file = %q, want remote content", got)
	}
}

func TestSync_PushesLocalChanges(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	// First round establishes the base.
	writeLocalFile(t, s, "v1")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	// Edit locally; remote still at ref 1.
	writeLocalFile(t, s, "v2")
	if err := s.Sync(ctx, "1"); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}

	content, ref, err := store.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != "v2" || ref != "2" {
		t.Errorf("remote = %q@%q, want v2@2", content, ref)
	}
}

func TestSync_NoopWhenUnchanged(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "v1")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}
	writesAfterSeed := store.writes

	if err := s.Sync(ctx, "1"); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if store.writes != writesAfterSeed {
		t.Errorf("store writes = %d, want %d (no-op round)", store.writes, writesAfterSeed)
	}
}

func TestSync_ConflictWhenBothChanged(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "base")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	// Remote moves to v-remote, local moves to v-local.
	remoteRef, err := store.Write(ctx, userdata.ResourceSettings, "v-remote")
	if err != nil {
		t.Fatalf("seeding remote change: %v", err)
	}
	writeLocalFile(t, s, "v-local")

	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if got := s.Status(); got != userdata.StatusHasConflicts {
		t.Fatalf("Status() = %v, want has conflicts", got)
	}

	// Local content is untouched while the conflict is pending.
	if got := readLocalFile(t, s); got != "v-local" {
		t.Errorf("local file = %q, want untouched v-local", got)
	}

	preview, err := s.RemoteContent(ctx, true)
	if err != nil {
		t.Fatalf("RemoteContent(preview) failed: %v", err)
	}
	if preview != "v-remote" {
		t.Errorf("preview = %q, want remote content", preview)
	}
}

func TestSync_BothArrivedAtSameContent(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "base")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	remoteRef, err := store.Write(ctx, userdata.ResourceSettings, "same")
	if err != nil {
		t.Fatalf("seeding remote change: %v", err)
	}
	writeLocalFile(t, s, "same")
	writesBefore := store.writes

	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if s.Status() != userdata.StatusIdle {
		t.Errorf("Status() = %v, want idle", s.Status())
	}
	if store.writes != writesBefore {
		t.Error("identical content caused a redundant push")
	}
}

func TestSync_RestoresDeletedLocal(t *testing.T) {
	s, _, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "keep me")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	if err := os.Remove(s.LocalPath()); err != nil {
		t.Fatalf("removing local file: %v", err)
	}

	if err := s.Sync(ctx, "1"); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if got := readLocalFile(t, s); got != "keep me" {
		t.Errorf("local file = %q, want restored content", got)
	}
}

func TestAccept_ResolvesConflict(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "base")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}
	remoteRef, _ := store.Write(ctx, userdata.ResourceSettings, "v-remote")
	writeLocalFile(t, s, "v-local")
	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("conflicting Sync() failed: %v", err)
	}
	if s.Status() != userdata.StatusHasConflicts {
		t.Fatal("expected a conflict before accept")
	}

	if err := s.Accept(ctx, "resolved"); err != nil {
		t.Fatalf("Accept() failed: %v", err)
	}

	if s.Status() != userdata.StatusIdle {
		t.Errorf("Status() = %v, want idle", s.Status())
	}
	if got := readLocalFile(t, s); got != "resolved" {
		t.Errorf("local file = %q, want resolved content", got)
	}
	content, _, err := store.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != "resolved" {
		t.Errorf("remote = %q, want resolved content", content)
	}

	// The preview must be gone.
	preview, err := s.RemoteContent(ctx, true)
	if err != nil {
		t.Fatalf("RemoteContent(preview) failed: %v", err)
	}
	if preview != "resolved" {
		t.Errorf("preview fallback = %q, want latest remote", preview)
	}
}

func TestStop_ClearsConflict(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "base")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}
	remoteRef, _ := store.Write(ctx, userdata.ResourceSettings, "v-remote")
	writeLocalFile(t, s, "v-local")
	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("conflicting Sync() failed: %v", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if s.Status() != userdata.StatusIdle {
		t.Errorf("Status() = %v, want idle", s.Status())
	}
}

func TestNew_ResumesLeftoverConflict(t *testing.T) {
	s, store, userDataDir := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "base")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}
	remoteRef, _ := store.Write(ctx, userdata.ResourceSettings, "v-remote")
	writeLocalFile(t, s, "v-local")
	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("conflicting Sync() failed: %v", err)
	}

	// A fresh synchroniser over the same state dir resumes the conflict.
	stateDir := filepath.Dir(s.record)
	fresh := NewSettings(store, userDataDir, stateDir, log.New(io.Discard, "", 0))
	if fresh.Status() != userdata.StatusHasConflicts {
		t.Errorf("fresh Status() = %v, want has conflicts", fresh.Status())
	}
}

func TestHasLocalData(t *testing.T) {
	s, _, _ := setupSyncer(t)

	has, err := s.HasLocalData()
	if err != nil {
		t.Fatalf("HasLocalData() failed: %v", err)
	}
	if has {
		t.Error("HasLocalData() = true for missing file")
	}

	writeLocalFile(t, s, "  \n")
	if has, _ = s.HasLocalData(); has {
		t.Error("HasLocalData() = true for blank file")
	}

	writeLocalFile(t, s, "{}")
	if has, _ = s.HasLocalData(); !has {
		t.Error("HasLocalData() = false for real content")
	}
}

func TestResetLocal(t *testing.T) {
	s, _, _ := setupSyncer(t)
	ctx := context.Background()

	writeLocalFile(t, s, "content")
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if err := s.ResetLocal(ctx); err != nil {
		t.Fatalf("ResetLocal() failed: %v", err)
	}

	if synced, _ := s.HasPreviouslySynced(); synced {
		t.Error("sync record survived ResetLocal()")
	}
	// The user's file itself is untouched.
	if got := readLocalFile(t, s); got != "content" {
		t.Errorf("local file = %q, want untouched content", got)
	}
}

func TestPull_ReplacesLocal(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, userdata.ResourceSettings, "remote wins"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	writeLocalFile(t, s, "local loses")

	if err := s.Pull(ctx); err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if got := readLocalFile(t, s); got != "remote wins" {
		t.Errorf("local file = %q, want remote content", got)
	}
}

func TestPush_ReplacesRemote(t *testing.T) {
	s, store, _ := setupSyncer(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, userdata.ResourceSettings, "remote loses"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	writeLocalFile(t, s, "local wins")

	if err := s.Push(ctx); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	content, _, err := store.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != "local wins" {
		t.Errorf("remote = %q, want local content", content)
	}
}
