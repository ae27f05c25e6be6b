package syncers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/prefsync/prefsync/internal/userdata"
)

func TestMergeExtensions_Union(t *testing.T) {
	local := `[{"id":"vim","version":"1.2.0"}]`
	remote := `[{"id":"gitlens","version":"14.0.1"}]`

	merged, ok := MergeExtensions(local, remote)
	if !ok {
		t.Fatal("MergeExtensions() failed")
	}

	var exts []Extension
	if err := json.Unmarshal([]byte(merged), &exts); err != nil {
		t.Fatalf("merged output is not valid JSON: %v", err)
	}
	if len(exts) != 2 {
		t.Fatalf("merged extensions = %d, want 2", len(exts))
	}
	// Output is sorted by id.
	if exts[0].ID != "gitlens" || exts[1].ID != "vim" {
		t.Errorf("merged order = %s, %s; want gitlens, vim", exts[0].ID, exts[1].ID)
	}
}

func TestMergeExtensions_HigherVersionWins(t *testing.T) {
	tests := []struct {
		name          string
		local, remote string
		want          string
	}{
		{"remote newer", "1.2.0", "1.10.0", "1.10.0"},
		{"local newer", "2.0.0", "1.9.9", "2.0.0"},
		{"equal", "1.0.0", "1.0.0", "1.0.0"},
		{"non-semver falls back to string compare", "build-b", "build-a", "build-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := `[{"id":"vim","version":"` + tt.local + `"}]`
			remote := `[{"id":"vim","version":"` + tt.remote + `"}]`

			merged, ok := MergeExtensions(local, remote)
			if !ok {
				t.Fatal("MergeExtensions() failed")
			}

			var exts []Extension
			if err := json.Unmarshal([]byte(merged), &exts); err != nil {
				t.Fatalf("merged output is not valid JSON: %v", err)
			}
			if len(exts) != 1 || exts[0].Version != tt.want {
				t.Errorf("merged version = %q, want %q", exts[0].Version, tt.want)
			}
		})
	}
}

func TestMergeExtensions_DisabledFollowsLocal(t *testing.T) {
	local := `[{"id":"vim","version":"1.0.0","disabled":true}]`
	remote := `[{"id":"vim","version":"1.0.0"}]`

	merged, ok := MergeExtensions(local, remote)
	if !ok {
		t.Fatal("MergeExtensions() failed")
	}

	var exts []Extension
	if err := json.Unmarshal([]byte(merged), &exts); err != nil {
		t.Fatalf("merged output is not valid JSON: %v", err)
	}
	if !exts[0].Disabled {
		t.Error("disabled flag did not follow the local side")
	}
}

func TestMergeExtensions_InvalidInput(t *testing.T) {
	if _, ok := MergeExtensions("not json", "[]"); ok {
		t.Error("MergeExtensions() accepted invalid local content")
	}
	if _, ok := MergeExtensions("[]", "{broken"); ok {
		t.Error("MergeExtensions() accepted invalid remote content")
	}
}

// TestExtensionsSyncer_AutoMerges verifies end to end that divergent
// extension lists merge instead of conflicting.
func TestExtensionsSyncer_AutoMerges(t *testing.T) {
	tmpDir := t.TempDir()
	userDataDir := filepath.Join(tmpDir, "userdata")
	stateDir := filepath.Join(tmpDir, "state")
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		t.Fatalf("creating user-data dir: %v", err)
	}

	store := newMemStore()
	s := NewExtensions(store, userDataDir, stateDir, log.New(io.Discard, "", 0))
	ctx := context.Background()

	base := `[{"id":"vim","version":"1.0.0"}]`
	if err := os.WriteFile(s.LocalPath(), []byte(base), 0644); err != nil {
		t.Fatalf("writing local file: %v", err)
	}
	if err := s.Sync(ctx, ""); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	// Remote adds gitlens; local upgrades vim.
	remoteRef, err := store.Write(ctx, userdata.ResourceExtensions,
		`[{"id":"vim","version":"1.0.0"},{"id":"gitlens","version":"14.0.1"}]`)
	if err != nil {
		t.Fatalf("seeding remote change: %v", err)
	}
	localEdit := `[{"id":"vim","version":"1.1.0"}]`
	if err := os.WriteFile(s.LocalPath(), []byte(localEdit), 0644); err != nil {
		t.Fatalf("editing local file: %v", err)
	}

	if err := s.Sync(ctx, remoteRef); err != nil {
		t.Fatalf("merging Sync() failed: %v", err)
	}

	if s.Status() != userdata.StatusIdle {
		t.Fatalf("Status() = %v, want idle (auto-merge)", s.Status())
	}

	raw, err := os.ReadFile(s.LocalPath())
	if err != nil {
		t.Fatalf("reading merged file: %v", err)
	}
	var exts []Extension
	if err := json.Unmarshal(raw, &exts); err != nil {
		t.Fatalf("merged file is not valid JSON: %v", err)
	}
	if len(exts) != 2 {
		t.Fatalf("merged extensions = %d, want 2", len(exts))
	}
	byID := map[string]Extension{}
	for _, e := range exts {
		byID[e.ID] = e
	}
	if byID["vim"].Version != "1.1.0" {
		t.Errorf("vim version = %q, want the upgraded 1.1.0", byID["vim"].Version)
	}
	if _, ok := byID["gitlens"]; !ok {
		t.Error("remotely added extension missing after merge")
	}
}
