// Package stitch concatenates the clips of a project into its final video.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/media"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/storage"
)

var (
	// ErrStitch is returned when a final artifact could not be produced.
	ErrStitch = errors.New("stitch failed")
	// ErrNoClips is returned, wrapped in ErrStitch, when no clip of the
	// project has a usable video.
	ErrNoClips = errors.New("no usable clips")
)

// Source describes where a playlist entry came from.
type Source string

// Entry sources.
const (
	SourceCommitted Source = "committed"
	SourceReencoded Source = "reencoded"
)

// Entry is one clip in the concatenation playlist.
type Entry struct {
	ClipID string `json:"clip_id"`
	Path   string `json:"path"`
	Source Source `json:"source"`
}

// Result describes a finished stitch.
type Result struct {
	Path    string   `json:"path"`
	Entries []Entry  `json:"entries"`
	Skipped []string `json:"skipped,omitempty"`
	// Reused is set when the existing final artifact already matched the
	// playlist and the concat tool was not run.
	Reused bool `json:"reused"`
	// URL is set when the artifact was published.
	URL string `json:"url,omitempty"`
}

// Stitcher builds final project artifacts. Calls are serialized.
type Stitcher struct {
	mu        sync.Mutex
	store     project.Store
	layout    *storage.Layout
	encoder   media.Encoder
	publisher storage.Publisher
	observe   func(elapsed time.Duration, err error)
	logger    *slog.Logger
}

// Option configures a Stitcher.
type Option func(*Stitcher)

// WithPublisher publishes every new final artifact after it is written.
func WithPublisher(p storage.Publisher) Option {
	return func(s *Stitcher) {
		s.publisher = p
	}
}

// WithObserver registers a callback run after every stitch.
func WithObserver(fn func(elapsed time.Duration, err error)) Option {
	return func(s *Stitcher) {
		s.observe = fn
	}
}

// New creates a Stitcher.
func New(store project.Store, layout *storage.Layout, encoder media.Encoder, logger *slog.Logger, opts ...Option) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stitcher{store: store, layout: layout, encoder: encoder, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stitch builds the project's final artifact and returns its path.
func (s *Stitcher) Stitch(ctx context.Context, projectID string) (string, error) {
	res, err := s.Run(ctx, projectID)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Run builds the project's final artifact. Clips are taken in project order:
// the committed artifact when present, else a re-encoded copy of the original
// input. Clips with neither are skipped.
func (s *Stitcher) Run(ctx context.Context, projectID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.run(ctx, projectID)
	if s.observe != nil {
		s.observe(time.Since(start), err)
	}
	return res, err
}

func (s *Stitcher) run(ctx context.Context, projectID string) (Result, error) {
	log := s.logger.With(slog.String("project", projectID))

	p, err := s.store.Load(ctx, projectID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStitch, err)
	}
	opts := media.DefaultEncodeOptions(p.FPS)

	var res Result
	for i := range p.Clips {
		c := &p.Clips[i]
		entry, ok, err := s.entryFor(ctx, p, c, opts, log)
		if err != nil {
			return Result{}, fmt.Errorf("%w: clip %s: %w", ErrStitch, c.ID, err)
		}
		if !ok {
			res.Skipped = append(res.Skipped, c.ID)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}
	if len(res.Entries) == 0 {
		return Result{}, fmt.Errorf("%w: project %s: %w", ErrStitch, projectID, ErrNoClips)
	}

	final := s.layout.Final(projectID)
	res.Path = final
	m, err := buildManifest(p.FPS, res.Entries)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStitch, err)
	}
	if storage.FileExists(final) && m.matches(manifestPath(final)) {
		log.Info("final artifact is up to date", slog.String("path", final))
		res.Reused = true
		return res, nil
	}

	if err := s.concat(ctx, res.Entries, final, opts); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStitch, err)
	}
	if err := m.write(manifestPath(final)); err != nil {
		log.Warn("could not record stitch manifest", slog.String("error", err.Error()))
	}
	log.Info("final artifact written", slog.String("path", final), slog.Int("clips", len(res.Entries)))

	if s.publisher != nil {
		key := path.Join(projectID, projectID+"_final.mp4")
		url, err := s.publisher.Publish(ctx, key, final)
		if err != nil {
			log.Error("publish failed, keeping local artifact", slog.String("error", err.Error()))
		} else {
			res.URL = url
			log.Info("final artifact published", slog.String("url", url))
		}
	}
	return res, nil
}

// entryFor picks the playlist entry of one clip. ok is false when the clip
// has neither a committed artifact nor an original input, or when its
// original input could not be re-encoded. A returned error is not clip-scoped.
func (s *Stitcher) entryFor(ctx context.Context, p *project.Project, c *project.Clip, opts media.EncodeOptions, log *slog.Logger) (Entry, bool, error) {
	committed := s.layout.ClipArtifact(p.ID, c.ID)
	if storage.FileExists(committed) {
		return Entry{ClipID: c.ID, Path: committed, Source: SourceCommitted}, true, nil
	}

	substitute := s.layout.Reencoded(p.ID, c.ID, p.FPS)
	if storage.FileExists(substitute) {
		return Entry{ClipID: c.ID, Path: substitute, Source: SourceReencoded}, true, nil
	}

	original := assets.OriginalSource(p, c)
	if !storage.FileExists(original) {
		log.Warn("clip has no artifact and no original input, skipping", slog.String("clip", c.ID))
		return Entry{}, false, nil
	}

	tmp, err := storage.TempFor(substitute)
	if err != nil {
		return Entry{}, false, err
	}
	if err := s.encoder.Reencode(ctx, original, tmp, opts); err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return Entry{}, false, fmt.Errorf("re-encode original: %w", ctx.Err())
		}
		log.Error("re-encode of original input failed, skipping clip",
			slog.String("clip", c.ID),
			slog.String("error", err.Error()),
		)
		return Entry{}, false, nil
	}
	if err := storage.Commit(tmp, substitute); err != nil {
		return Entry{}, false, err
	}
	log.Info("re-encoded original input", slog.String("clip", c.ID), slog.String("path", substitute))
	return Entry{ClipID: c.ID, Path: substitute, Source: SourceReencoded}, true, nil
}

// concat writes the joined video to a temp file and renames it over final
// only when the tool succeeded.
func (s *Stitcher) concat(ctx context.Context, entries []Entry, final string, opts media.EncodeOptions) error {
	srcs := make([]string, len(entries))
	for i, e := range entries {
		srcs[i] = e.Path
	}

	tmp, err := storage.TempFor(final)
	if err != nil {
		return err
	}
	if err := s.encoder.Concat(ctx, srcs, tmp, opts); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return storage.Commit(tmp, final)
}
