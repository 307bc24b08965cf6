package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/media"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/storage"
)

// Frames extracts stills from clip inputs for mask authoring. Extracted
// frames are cached in the layout and reused.
type Frames struct {
	store     project.Store
	layout    *storage.Layout
	extractor media.FrameExtractor
}

// NewFrames creates a Frames service.
func NewFrames(store project.Store, layout *storage.Layout, extractor media.FrameExtractor) *Frames {
	return &Frames{store: store, layout: layout, extractor: extractor}
}

// Frame returns the path of frame n of the clip's original input,
// extracting it on first use.
func (f *Frames) Frame(ctx context.Context, projectID, clipID string, n int) (string, error) {
	p, err := f.store.Load(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project %s: %w", projectID, err)
	}
	c, err := p.Clip(clipID)
	if err != nil {
		return "", err
	}

	src := assets.OriginalSource(p, c)
	if !storage.FileExists(src) {
		return "", fmt.Errorf("%w: source video %s", assets.ErrAssetMissing, src)
	}

	dst := f.layout.Frame(p.ID, c.ID, n)
	if storage.FileExists(dst) {
		return dst, nil
	}

	tmp, err := storage.TempFor(dst)
	if err != nil {
		return "", err
	}
	if err := f.extractor.ExtractFrame(ctx, src, tmp, n); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("extract frame %d of %s/%s: %w", n, p.ID, c.ID, err)
	}
	if err := storage.Commit(tmp, dst); err != nil {
		return "", err
	}
	return dst, nil
}
