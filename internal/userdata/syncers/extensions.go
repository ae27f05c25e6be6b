package syncers

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Extension describes one installed extension in extensions.json.
type Extension struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Disabled bool   `json:"disabled,omitempty"`
}

// MergeExtensions merges two divergent extension lists. The result is the
// union of both lists; when an extension appears on both sides with
// different versions, the higher version wins. The disabled flag follows
// the local side when the extension is installed locally.
//
// Returns false when either side is not a valid extension list, in which
// case the caller falls back to conflict handling.
func MergeExtensions(local, remote string) (string, bool) {
	var localExts, remoteExts []Extension
	if err := json.Unmarshal([]byte(local), &localExts); err != nil {
		return "", false
	}
	if err := json.Unmarshal([]byte(remote), &remoteExts); err != nil {
		return "", false
	}

	merged := make(map[string]Extension, len(localExts)+len(remoteExts))
	for _, ext := range remoteExts {
		merged[ext.ID] = ext
	}
	for _, ext := range localExts {
		if prev, ok := merged[ext.ID]; ok {
			if compareVersions(prev.Version, ext.Version) > 0 {
				ext.Version = prev.Version
			}
		}
		merged[ext.ID] = ext
	}

	out := make([]Extension, 0, len(merged))
	for _, ext := range merged {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// compareVersions compares two extension versions, preferring semver
// ordering and falling back to plain string comparison for versions that
// aren't valid semver.
func compareVersions(a, b string) int {
	va, vb := canonical(a), canonical(b)
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return strings.Compare(a, b)
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
