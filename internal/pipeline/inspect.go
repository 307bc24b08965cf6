package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/storage"
)

// ClipView is the derived on-disk status of one clip.
type ClipView struct {
	ID     string `json:"id"`
	Passes int    `json:"passes"`
	// Done is true when a committed artifact exists.
	Done     bool   `json:"done"`
	Artifact string `json:"artifact,omitempty"`
	// Substitute is true when a re-encoded stand-in is cached for stitching.
	Substitute    bool `json:"substitute"`
	Intermediates int  `json:"intermediates"`
}

// Inspector derives clip status from the artifact layout. It never runs
// anything.
type Inspector struct {
	store  project.Store
	layout *storage.Layout
}

// NewInspector creates an Inspector.
func NewInspector(store project.Store, layout *storage.Layout) *Inspector {
	return &Inspector{store: store, layout: layout}
}

// Clips returns the status of every clip of a project in project order.
func (i *Inspector) Clips(ctx context.Context, projectID string) ([]ClipView, error) {
	p, err := i.store.Load(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}

	views := make([]ClipView, 0, len(p.Clips))
	for _, c := range p.Clips {
		v := ClipView{
			ID:         c.ID,
			Passes:     len(c.Passes),
			Done:       i.layout.IsDone(p.ID, c.ID),
			Substitute: storage.FileExists(i.layout.Reencoded(p.ID, c.ID, p.FPS)),
		}
		if v.Done {
			v.Artifact = i.layout.ClipArtifact(p.ID, c.ID)
		}
		if entries, err := os.ReadDir(i.layout.PassDir(p.ID, c.ID)); err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					v.Intermediates++
				}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// MaskRef names a pass whose mask side file is absent.
type MaskRef struct {
	ClipID string `json:"clip_id"`
	Pass   int    `json:"pass"`
}

// Plan is the outcome of preparing a whole-project run.
type Plan struct {
	// ClipIDs holds every clip in project order.
	ClipIDs []string
	// Missing lists masked passes without a mask file. The run must not be
	// queued while it is non-empty.
	Missing []MaskRef
}

// Plan collects every clip of a project and checks that each masked pass of
// a substitution clip has its mask on disk.
func (i *Inspector) Plan(ctx context.Context, projectID string) (Plan, error) {
	p, err := i.store.Load(ctx, projectID)
	if err != nil {
		return Plan{}, fmt.Errorf("load project %s: %w", projectID, err)
	}

	plan := Plan{ClipIDs: make([]string, 0, len(p.Clips))}
	for idx := range p.Clips {
		c := &p.Clips[idx]
		plan.ClipIDs = append(plan.ClipIDs, c.ID)
		if p.EffectiveCategory(c) == project.CategoryNoSubstitution {
			continue
		}
		for _, pass := range c.OrderedPasses() {
			if pass.WantsMask() && !storage.FileExists(i.layout.MaskFile(p.ID, c.ID, pass.Index)) {
				plan.Missing = append(plan.Missing, MaskRef{ClipID: c.ID, Pass: pass.Index})
			}
		}
	}
	return plan, nil
}
