package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ProfileFile is the name of the project profile inside a project directory.
const ProfileFile = "project.yaml"

// Store loads projects by id.
type Store interface {
	// Exists reports whether a project with the given id is present.
	Exists(ctx context.Context, id string) bool

	// List returns the ids of every project with a profile, sorted.
	List(ctx context.Context) ([]string, error)

	// Load reads and validates the full project structure.
	// Errors wrap ErrStructural.
	Load(ctx context.Context, id string) (*Project, error)
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore reads projects from <root>/<id>/project.yaml. Clip sources are
// relative to <root>/<id>/input.
type FileStore struct {
	root     string
	validate *validator.Validate
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		root:     dir,
		validate: validator.New(),
	}
}

// Root returns the projects directory.
func (s *FileStore) Root() string {
	return s.root
}

// Exists reports whether the project's profile file exists.
func (s *FileStore) Exists(_ context.Context, id string) bool {
	if !validID(id) {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, id, ProfileFile))
	return err == nil && !info.IsDir()
}

// List scans the root for directories holding a profile file. A missing
// root yields no projects.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list projects: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && s.Exists(ctx, e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Load reads the project profile. Nothing is cached between calls.
func (s *FileStore) Load(ctx context.Context, id string) (*Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: invalid project id %q", ErrStructural, id)
	}

	dir := filepath.Join(s.root, id)
	data, err := os.ReadFile(filepath.Join(dir, ProfileFile)) // #nosec G304 - id is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, fmt.Errorf("%w: read project %s: %w", ErrStructural, id, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse project %s: %w", ErrStructural, id, err)
	}
	p.ID = id
	p.InputRoot = filepath.Join(dir, "input")

	if err := s.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: project %s: %w", ErrStructural, id, err)
	}
	if err := checkClips(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

// checkClips rejects clip sources outside the input root, duplicate clip ids
// and duplicate pass indexes.
func checkClips(p *Project) error {
	clips := make(map[string]struct{}, len(p.Clips))
	for _, c := range p.Clips {
		if !filepath.IsLocal(c.Source) {
			return fmt.Errorf("%w: project %s clip %s: source %q must be relative to the input directory", ErrStructural, p.ID, c.ID, c.Source)
		}
		if _, dup := clips[c.ID]; dup {
			return fmt.Errorf("%w: project %s: duplicate clip %q", ErrStructural, p.ID, c.ID)
		}
		clips[c.ID] = struct{}{}

		passes := make(map[int]struct{}, len(c.Passes))
		for _, ps := range c.Passes {
			if _, dup := passes[ps.Index]; dup {
				return fmt.Errorf("%w: project %s clip %s: duplicate pass index %d", ErrStructural, p.ID, c.ID, ps.Index)
			}
			passes[ps.Index] = struct{}{}
		}
	}
	return nil
}

// validID keeps ids to a single path element.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
