package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/maauso/charswap/internal/project"
)

// Workflow placeholders. A string leaf equal to one of these is replaced by
// a typed value when the template is rendered.
const (
	PlaceholderSourceVideo    = "{{source_video}}"
	PlaceholderCharacterImage = "{{character_image}}"
	PlaceholderWidth          = "{{width}}"
	PlaceholderHeight         = "{{height}}"
	PlaceholderPositivePoints = "{{positive_points}}"
	PlaceholderNegativePoints = "{{negative_points}}"
	PlaceholderMaskEnabled    = "{{mask_enabled}}"
	PlaceholderOutputPrefix   = "{{output_prefix}}"
	PlaceholderSeed           = "{{seed}}"
)

// ErrInvalidTemplate is returned when a workflow template cannot be used.
var ErrInvalidTemplate = errors.New("generator: invalid workflow template")

// requiredPlaceholders must appear at least once in every template.
var requiredPlaceholders = []string{
	PlaceholderSourceVideo,
	PlaceholderCharacterImage,
	PlaceholderOutputPrefix,
}

// Template is a parsed workflow graph with placeholders.
type Template struct {
	root map[string]any
}

// LoadTemplate reads and parses a workflow template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("generator: read workflow template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate parses a JSON workflow template.
func ParseTemplate(data []byte) (*Template, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	found := make(map[string]bool)
	collectPlaceholders(root, found)
	for _, p := range requiredPlaceholders {
		if !found[p] {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidTemplate, p)
		}
	}
	return &Template{root: root}, nil
}

// workflowInputs are the values substituted into a template.
type workflowInputs struct {
	SourceVideo    string
	CharacterImage string
	Resolution     project.Resolution
	Mask           *project.MaskPointSet
	OutputPrefix   string
	Seed           int64
}

// Render returns a deep copy of the template with placeholders replaced.
func (t *Template) Render(in workflowInputs) (map[string]any, error) {
	values := map[string]any{
		PlaceholderSourceVideo:    in.SourceVideo,
		PlaceholderCharacterImage: in.CharacterImage,
		PlaceholderWidth:          in.Resolution.Width,
		PlaceholderHeight:         in.Resolution.Height,
		PlaceholderPositivePoints: "",
		PlaceholderNegativePoints: "",
		PlaceholderMaskEnabled:    in.Mask != nil,
		PlaceholderOutputPrefix:   in.OutputPrefix,
		PlaceholderSeed:           in.Seed,
	}
	if in.Mask != nil {
		pos, err := encodePoints(in.Mask.Positive)
		if err != nil {
			return nil, err
		}
		neg, err := encodePoints(in.Mask.Negative)
		if err != nil {
			return nil, err
		}
		values[PlaceholderPositivePoints] = pos
		values[PlaceholderNegativePoints] = neg
	}

	out, ok := substitute(t.root, values).(map[string]any)
	if !ok {
		return nil, ErrInvalidTemplate
	}
	return out, nil
}

// encodePoints serializes points as the JSON string the mask nodes expect.
// A nil or empty list encodes as "[]".
func encodePoints(points []project.Point) (string, error) {
	if points == nil {
		points = []project.Point{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("generator: encode mask points: %w", err)
	}
	return string(b), nil
}

func substitute(node any, values map[string]any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = substitute(child, values)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = substitute(child, values)
		}
		return out
	case string:
		if r, ok := values[v]; ok {
			return r
		}
		return v
	default:
		return v
	}
}

func collectPlaceholders(node any, found map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			collectPlaceholders(child, found)
		}
	case []any:
		for _, child := range v {
			collectPlaceholders(child, found)
		}
	case string:
		found[v] = true
	}
}
