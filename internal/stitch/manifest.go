package stitch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/maauso/charswap/internal/storage"
)

// manifest records the inputs a final artifact was built from.
type manifest struct {
	FPS     float64         `json:"fps"`
	Entries []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
}

func manifestPath(final string) string {
	return strings.TrimSuffix(final, ".mp4") + ".manifest.json"
}

func buildManifest(fps float64, entries []Entry) (manifest, error) {
	m := manifest{FPS: fps, Entries: make([]manifestEntry, len(entries))}
	for i, e := range entries {
		info, err := os.Stat(e.Path)
		if err != nil {
			return manifest{}, fmt.Errorf("stat %s: %w", e.Path, err)
		}
		m.Entries[i] = manifestEntry{Path: e.Path, Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	}
	return m, nil
}

func (m manifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// matches reports whether the manifest stored at path equals m.
func (m manifest) matches(path string) bool {
	stored, err := os.ReadFile(path) // #nosec G304 - path is derived from the layout
	if err != nil {
		return false
	}
	want, err := m.encode()
	if err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(stored), bytes.TrimSpace(want))
}

func (m manifest) write(path string) error {
	data, err := m.encode()
	if err != nil {
		return err
	}
	tmp, err := storage.TempFor(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return storage.Commit(tmp, path)
}
