// Package project defines the project, clip and pass data the pipeline reads,
// and the file-backed store that loads it.
package project

import (
	"errors"
	"fmt"
	"sort"
)

// ErrStructural marks bad or missing project data.
var ErrStructural = errors.New("structural error")

// ErrProjectNotFound is returned when no project exists for an id.
var ErrProjectNotFound = fmt.Errorf("%w: project not found", ErrStructural)

// ErrClipNotFound is returned when a clip id is not part of a project.
var ErrClipNotFound = fmt.Errorf("%w: clip not found", ErrStructural)

// Clip categories.
const (
	CategoryNoSubstitution = "no-substitution"
	CategorySingle         = "single"
	CategoryMulti          = "multi"
)

// Mask policy tags.
const (
	MaskAuto = "auto"
	MaskNone = "none"
)

// Project is one loaded project. It is not modified after Load returns.
type Project struct {
	ID       string  `yaml:"-" json:"id"`
	FPS      float64 `yaml:"fps" json:"fps" validate:"gt=0,lte=240"`
	Category string  `yaml:"category,omitempty" json:"category,omitempty"`
	Clips    []Clip  `yaml:"clips" json:"clips" validate:"dive"`

	// InputRoot is the directory clip sources are relative to.
	InputRoot string `yaml:"-" json:"-"`
}

// Clip is one input segment and its generation passes. Source is a path
// relative to the project's input root and may not leave it.
type Clip struct {
	ID       string `yaml:"id" json:"id" validate:"required,excludesall=/\\"`
	Source   string `yaml:"source" json:"source" validate:"required"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	Passes   []Pass `yaml:"passes,omitempty" json:"passes,omitempty" validate:"dive"`
}

// Pass is one character-substitution step of a clip.
type Pass struct {
	Index     int    `yaml:"index" json:"index" validate:"min=1"`
	Character string `yaml:"character" json:"character" validate:"required"`
	Mask      string `yaml:"mask,omitempty" json:"mask,omitempty" validate:"omitempty,oneof=auto none"`
	// Seed pins the generation seed; zero lets the client derive one.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty" validate:"gte=0"`
}

// Point is a mask coordinate in source-frame pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MaskPointSet holds the positive and negative points of a region mask.
type MaskPointSet struct {
	Positive []Point `json:"positive"`
	Negative []Point `json:"negative"`
}

// Clip returns the clip with the given id.
func (p *Project) Clip(id string) (*Clip, error) {
	for i := range p.Clips {
		if p.Clips[i].ID == id {
			return &p.Clips[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrClipNotFound, p.ID, id)
}

// EffectiveCategory returns the clip category, falling back to the project's.
func (p *Project) EffectiveCategory(c *Clip) string {
	if c.Category != "" {
		return c.Category
	}
	return p.Category
}

// OrderedPasses returns the clip's passes sorted by index. The receiver is
// left untouched.
func (c *Clip) OrderedPasses() []Pass {
	passes := make([]Pass, len(c.Passes))
	copy(passes, c.Passes)
	sort.SliceStable(passes, func(i, j int) bool {
		return passes[i].Index < passes[j].Index
	})
	return passes
}

// WantsMask reports whether a mask side file should be looked up.
func (p Pass) WantsMask() bool {
	return p.Mask != MaskNone
}

// Resolution is a generation size hint.
type Resolution struct {
	Width  int
	Height int
}

// resolutions maps a category to its generation size.
var resolutions = map[string]Resolution{
	CategorySingle:         {Width: 832, Height: 480},
	CategoryMulti:          {Width: 1280, Height: 720},
	CategoryNoSubstitution: {Width: 832, Height: 480},
}

// ResolutionFor returns the resolution hint for a category tag.
func ResolutionFor(category string) Resolution {
	if r, ok := resolutions[category]; ok {
		return r
	}
	return resolutions[CategorySingle]
}
