// Package assets resolves the inputs of a generation pass: the source video,
// the character reference image and the optional mask point-set.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/storage"
)

// ErrAssetMissing is returned when a required local input does not exist.
var ErrAssetMissing = errors.New("asset missing")

// imageExtensions are tried in order for character images.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Inputs are the resolved inputs of one pass.
type Inputs struct {
	SourcePath    string
	CharacterPath string
	Mask          *project.MaskPointSet
}

// Resolver finds pass inputs on disk.
type Resolver struct {
	charactersDir string
	layout        *storage.Layout
}

// NewResolver creates a resolver. Character images are looked up under
// charactersDir/custom first, then charactersDir/default.
func NewResolver(charactersDir string, layout *storage.Layout) *Resolver {
	return &Resolver{charactersDir: charactersDir, layout: layout}
}

// OriginalSource returns the clip's declared input path.
func OriginalSource(p *project.Project, c *project.Clip) string {
	return filepath.Join(p.InputRoot, filepath.FromSlash(c.Source))
}

// Resolve returns the inputs of pass. currentSource is the previous pass's
// artifact; an empty value selects the clip's original input.
func (r *Resolver) Resolve(p *project.Project, c *project.Clip, pass project.Pass, currentSource string) (Inputs, error) {
	source := currentSource
	if source == "" {
		source = OriginalSource(p, c)
	}
	if !storage.FileExists(source) {
		return Inputs{}, fmt.Errorf("%w: source video %s", ErrAssetMissing, source)
	}

	character, err := r.Character(pass.Character)
	if err != nil {
		return Inputs{}, err
	}

	in := Inputs{SourcePath: source, CharacterPath: character}
	if pass.WantsMask() {
		mask, err := r.Mask(p.ID, c.ID, pass.Index)
		if err != nil {
			return Inputs{}, err
		}
		in.Mask = mask
	}
	return in, nil
}

// Character returns the image for a character name, preferring a custom
// upload over the built-in default.
func (r *Resolver) Character(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid character name %q", ErrAssetMissing, name)
	}
	for _, dir := range []string{"custom", "default"} {
		for _, ext := range imageExtensions {
			path := filepath.Join(r.charactersDir, dir, name+ext)
			if storage.FileExists(path) {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: character image %q", ErrAssetMissing, name)
}

// maskFile is the on-disk shape of a mask side file.
type maskFile struct {
	Positive []project.Point `json:"positive"`
	Negative []project.Point `json:"negative"`
}

// Mask loads the mask side file of a pass. A missing file yields nil, nil.
// A file with only negative points still yields a mask, with an empty
// positive list.
func (r *Resolver) Mask(projectID, clipID string, passIndex int) (*project.MaskPointSet, error) {
	path := r.layout.MaskFile(projectID, clipID, passIndex)
	data, err := os.ReadFile(path) // #nosec G304 - path is built by the layout
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read mask %s: %w", project.ErrStructural, path, err)
	}

	var mf maskFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: decode mask %s: %w", project.ErrStructural, path, err)
	}
	if mf.Positive == nil {
		mf.Positive = []project.Point{}
	}
	if mf.Negative == nil {
		mf.Negative = []project.Point{}
	}
	return &project.MaskPointSet{Positive: mf.Positive, Negative: mf.Negative}, nil
}
