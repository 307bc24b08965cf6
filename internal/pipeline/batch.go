package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/charswap/internal/project"
)

// Stitcher concatenates a project's clips into its final artifact.
type Stitcher interface {
	Stitch(ctx context.Context, projectID string) (string, error)
}

// Batch is one queued unit of work: a project and the clips to run, in the
// order the caller chose.
type Batch struct {
	ID        string
	ProjectID string
	ClipIDs   []string
}

// UnitReport summarizes a processed batch.
type UnitReport struct {
	UnitID    string               `json:"unit_id"`
	ProjectID string               `json:"project_id"`
	Clips     map[string]ClipState `json:"clips"`
	Skipped   []string             `json:"skipped,omitempty"`
	Cancelled bool                 `json:"cancelled"`
	Stitched  bool                 `json:"stitched"`
	FinalPath string               `json:"final_path,omitempty"`
	StitchErr error                `json:"-"`
}

// Committed returns the ids of committed clips.
func (r UnitReport) Committed() []string {
	var ids []string
	for id, s := range r.Clips {
		if s == StateCommitted {
			ids = append(ids, id)
		}
	}
	return ids
}

// BatchProcessor runs the clips of a batch and stitches the project when the
// batch was not cancelled.
type BatchProcessor struct {
	store    project.Store
	executor *Executor
	stitcher Stitcher
	observer Observer
	logger   *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithObserver adds an observer notified for every batch, in addition to the
// per-call one.
func WithObserver(o Observer) BatchOption {
	return func(b *BatchProcessor) {
		b.observer = o
	}
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(store project.Store, executor *Executor, stitcher Stitcher, logger *slog.Logger, opts ...BatchOption) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BatchProcessor{store: store, executor: executor, stitcher: stitcher, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ProcessUnit runs every clip of the batch. A project that cannot be loaded
// fails the whole unit; a bad clip only affects itself. cancelled is checked
// at unit start, before each clip and before each pass.
func (b *BatchProcessor) ProcessUnit(ctx context.Context, batch Batch, cancelled func() bool, obs Observer) (UnitReport, error) {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	obs = Observers(b.observer, obs)
	log := b.logger.With(slog.String("unit", batch.ID), slog.String("project", batch.ProjectID))

	report := UnitReport{
		UnitID:    batch.ID,
		ProjectID: batch.ProjectID,
		Clips:     make(map[string]ClipState, len(batch.ClipIDs)),
	}
	if cancelled() {
		report.Cancelled = true
		return report, nil
	}

	p, err := b.store.Load(ctx, batch.ProjectID)
	if err != nil {
		return report, fmt.Errorf("load project %s: %w", batch.ProjectID, err)
	}

	for _, clipID := range batch.ClipIDs {
		if cancelled() {
			report.Cancelled = true
			break
		}
		c, err := p.Clip(clipID)
		if err != nil {
			log.Error("skipping clip", slog.String("clip", clipID), slog.String("kind", KindStructural), slog.String("error", err.Error()))
			report.Skipped = append(report.Skipped, clipID)
			continue
		}

		state, err := b.runClipSafe(ctx, p, c, cancelled, obs, log)
		report.Clips[clipID] = state
		if errors.Is(err, ErrCancelled) {
			report.Cancelled = true
			break
		}
	}

	if report.Cancelled || cancelled() {
		report.Cancelled = true
		log.Info("unit cancelled, skipping stitch")
		return report, nil
	}

	final, err := b.stitcher.Stitch(ctx, p.ID)
	if err != nil {
		log.Error("stitch failed", slog.String("error", err.Error()))
		report.StitchErr = err
		return report, nil
	}
	report.Stitched = true
	report.FinalPath = final
	return report, nil
}

// runClipSafe runs one clip and turns a panic into an aborted clip.
func (b *BatchProcessor) runClipSafe(ctx context.Context, p *project.Project, c *project.Clip, cancelled func() bool, obs Observer, log *slog.Logger) (state ClipState, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("clip panicked",
				slog.String("clip", c.ID),
				slog.String("kind", KindStructural),
				slog.Any("panic", r),
			)
			obs.ClipFinished(p.ID, c.ID, StateAborted)
			state = StateAborted
			err = fmt.Errorf("%w: clip %s panicked: %v", project.ErrStructural, c.ID, r)
		}
	}()
	return b.executor.RunClip(ctx, p, c, cancelled, obs)
}
