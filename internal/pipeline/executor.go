package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/generator"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/storage"
)

// Resolver resolves the inputs of one pass.
type Resolver interface {
	Resolve(p *project.Project, c *project.Clip, pass project.Pass, currentSource string) (assets.Inputs, error)
}

// Executor runs the passes of one clip, chaining each pass's artifact into
// the next pass as its source.
type Executor struct {
	resolver  Resolver
	generator generator.Generator
	layout    *storage.Layout
	logger    *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(resolver Resolver, gen generator.Generator, layout *storage.Layout, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{resolver: resolver, generator: gen, layout: layout, logger: logger}
}

// OutputPrefix is the output-name hint sent with a pass.
func OutputPrefix(projectID, clipID string, passIndex int) string {
	return fmt.Sprintf("%s_%s_p%d", projectID, clipID, passIndex)
}

// RunClip executes the clip's passes in ascending index order. The clip is
// committed only when every pass succeeded and the final source is a newly
// produced artifact. cancelled is checked before each pass; a pass already
// in flight is never interrupted by it.
//
// Intermediate artifacts stay in the clip's work directory whatever the
// outcome.
func (e *Executor) RunClip(ctx context.Context, p *project.Project, c *project.Clip, cancelled func() bool, obs Observer) (ClipState, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	log := e.logger.With(slog.String("project", p.ID), slog.String("clip", c.ID))

	passes := c.OrderedPasses()
	if len(passes) == 0 {
		log.Info("clip has no passes, leaving it pending")
		obs.ClipFinished(p.ID, c.ID, StatePending)
		return StatePending, nil
	}

	obs.ClipStarted(p.ID, c.ID)
	state, err := e.runPasses(ctx, p, c, passes, cancelled, obs, log)
	obs.ClipFinished(p.ID, c.ID, state)
	return state, err
}

func (e *Executor) runPasses(ctx context.Context, p *project.Project, c *project.Clip, passes []project.Pass, cancelled func() bool, obs Observer, log *slog.Logger) (ClipState, error) {
	original := assets.OriginalSource(p, c)
	current := original
	resolution := project.ResolutionFor(p.EffectiveCategory(c))
	passDir := e.layout.PassDir(p.ID, c.ID)
	if err := os.MkdirAll(passDir, 0o750); err != nil {
		return StateAborted, fmt.Errorf("create work directory: %w", err)
	}

	for _, pass := range passes {
		if cancelled != nil && cancelled() {
			log.Info("stop requested, aborting clip", slog.Int("pass", pass.Index))
			return StateAborted, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return StateAborted, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		plog := log.With(slog.Int("pass", pass.Index))
		obs.PassStarted(p.ID, c.ID, pass.Index)

		next, err := e.runPass(ctx, p, c, pass, current, resolution, passDir, plog)
		obs.PassFinished(p.ID, c.ID, pass.Index, err)
		if err != nil {
			plog.Error("pass failed, aborting clip",
				slog.String("kind", Kind(err)),
				slog.String("error", err.Error()),
			)
			return StateAborted, fmt.Errorf("pass %d: %w", pass.Index, err)
		}
		current = next
	}

	if current == original {
		return StateAborted, ErrNoArtifact
	}

	dst := e.layout.ClipArtifact(p.ID, c.ID)
	if err := storage.CopyFile(current, dst); err != nil {
		log.Error("commit failed", slog.String("error", err.Error()))
		return StateAborted, fmt.Errorf("commit clip artifact: %w", err)
	}
	log.Info("clip committed", slog.String("artifact", dst), slog.Int("passes", len(passes)))
	return StateCommitted, nil
}

// runPass resolves the inputs of one pass and runs it, returning the local
// path of the produced artifact.
func (e *Executor) runPass(ctx context.Context, p *project.Project, c *project.Clip, pass project.Pass, source string, res project.Resolution, passDir string, log *slog.Logger) (string, error) {
	in, err := e.resolver.Resolve(p, c, pass, source)
	if err != nil {
		return "", err
	}

	log.Info("running pass",
		slog.String("source", in.SourcePath),
		slog.String("character", in.CharacterPath),
		slog.Bool("masked", in.Mask != nil),
	)
	result, err := e.generator.Submit(ctx, generator.Request{
		SourcePath:    in.SourcePath,
		CharacterPath: in.CharacterPath,
		Mask:          in.Mask,
		OutputPrefix:  OutputPrefix(p.ID, c.ID, pass.Index),
		Resolution:    res,
		Seed:          pass.Seed,
		DestDir:       passDir,
	})
	if err != nil {
		return "", err
	}
	return result.LocalPath, nil
}
