package remote

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prefsync/prefsync/internal/userdata"
)

// setupStore creates a temporary store with schema initialized.
func setupStore(t *testing.T, cfg *Config) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func TestManifest_EmptyStore(t *testing.T) {
	s := setupStore(t, nil)

	m, err := s.Manifest(context.Background())
	if err != nil {
		t.Fatalf("Manifest() failed: %v", err)
	}
	if m != nil {
		t.Errorf("Manifest() = %+v, want nil for an empty store", m)
	}
}

func TestWriteAndManifest(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	ref1, err := s.Write(ctx, userdata.ResourceSettings, `{"theme":"dark"}`)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if ref1 != "1" {
		t.Errorf("first ref = %q, want %q", ref1, "1")
	}

	ref2, err := s.Write(ctx, userdata.ResourceSettings, `{"theme":"light"}`)
	if err != nil {
		t.Fatalf("second Write() failed: %v", err)
	}
	if ref2 != "2" {
		t.Errorf("second ref = %q, want %q", ref2, "2")
	}

	if _, err := s.Write(ctx, userdata.ResourceExtensions, `[]`); err != nil {
		t.Fatalf("extensions Write() failed: %v", err)
	}

	m, err := s.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest() failed: %v", err)
	}
	if m == nil {
		t.Fatal("Manifest() = nil after writes")
	}
	if m.SessionID == "" {
		t.Error("manifest has no session id")
	}
	if got := m.Ref(userdata.ResourceSettings); got != "2" {
		t.Errorf("settings ref = %q, want %q", got, "2")
	}
	if got := m.Ref(userdata.ResourceExtensions); got != "1" {
		t.Errorf("extensions ref = %q, want %q", got, "1")
	}
	if got := m.Ref(userdata.ResourceKeybindings); got != "" {
		t.Errorf("keybindings ref = %q, want none", got)
	}
}

func TestLatestAndContent(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	content, ref, err := s.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != "" || ref != "" {
		t.Errorf("Latest() on empty store = %q, %q", content, ref)
	}

	if _, err := s.Write(ctx, userdata.ResourceSettings, "v1"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := s.Write(ctx, userdata.ResourceSettings, "v2"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	content, ref, err = s.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if content != "v2" || ref != "2" {
		t.Errorf("Latest() = %q, %q, want v2, 2", content, ref)
	}

	old, err := s.Content(ctx, userdata.ResourceSettings, "1")
	if err != nil {
		t.Fatalf("Content() failed: %v", err)
	}
	if old != "v1" {
		t.Errorf("Content(ref 1) = %q, want %q", old, "v1")
	}

	missing, err := s.Content(ctx, userdata.ResourceSettings, "99")
	if err != nil {
		t.Fatalf("Content(missing) failed: %v", err)
	}
	if missing != "" {
		t.Errorf("Content(missing ref) = %q, want empty", missing)
	}
}

func TestWrite_TooLarge(t *testing.T) {
	s := setupStore(t, &Config{Enabled: true, MaxStoreSize: 10})
	ctx := context.Background()

	if _, err := s.Write(ctx, userdata.ResourceSettings, "12345"); err != nil {
		t.Fatalf("Write() under the cap failed: %v", err)
	}

	_, err := s.Write(ctx, userdata.ResourceSettings, "1234567890")
	if !errors.Is(err, userdata.ErrTooLarge) {
		t.Fatalf("Write() over the cap = %v, want ErrTooLarge", err)
	}

	// The failed write must not have consumed a ref.
	_, ref, err := s.Latest(ctx, userdata.ResourceSettings)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if ref != "1" {
		t.Errorf("latest ref after rejected write = %q, want %q", ref, "1")
	}
}

func TestReset_StartsFreshSession(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	if _, err := s.Write(ctx, userdata.ResourceSettings, "{}"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	before, err := s.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest() failed: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}

	m, err := s.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest() after reset failed: %v", err)
	}
	if m != nil {
		t.Fatalf("Manifest() after reset = %+v, want nil", m)
	}

	if _, err := s.Write(ctx, userdata.ResourceSettings, "{}"); err != nil {
		t.Fatalf("Write() after reset failed: %v", err)
	}
	after, err := s.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest() failed: %v", err)
	}
	if after.SessionID == before.SessionID {
		t.Error("session id survived a reset")
	}
}

func TestIsConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.IsConfigured() {
		t.Error("store reports configured before InitSchema()")
	}

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if !s.IsConfigured() {
		t.Error("store reports unconfigured after InitSchema()")
	}
}

func TestIsEnabled(t *testing.T) {
	s := setupStore(t, &Config{Enabled: false, MaxStoreSize: 1 << 20})
	if s.IsEnabled() {
		t.Error("store reports enabled despite config")
	}
}
