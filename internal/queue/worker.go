package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/job/id"
	"github.com/maauso/charswap/internal/pipeline"
)

// ErrInvalidUnit is returned by Enqueue for a unit without a project or clips.
var ErrInvalidUnit = errors.New("queue: unit needs a project id and at least one clip id")

// Processor runs one batch.
type Processor interface {
	ProcessUnit(ctx context.Context, batch pipeline.Batch, cancelled func() bool, obs pipeline.Observer) (pipeline.UnitReport, error)
}

// Worker consumes the queue with a single goroutine. Enqueue, Status and
// Stop are safe to call from any goroutine.
type Worker struct {
	queue     *Queue
	processor Processor
	jobs      job.Repository
	logger    *slog.Logger
	onUnit    func(status job.Status)
	now       func() time.Time

	// mu orders Enqueue against Stop so a unit is either drained or
	// carries the new epoch.
	mu     sync.Mutex
	epoch  atomic.Uint64
	status atomic.Pointer[Status]
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRepository records unit lifecycles in repo.
func WithRepository(repo job.Repository) WorkerOption {
	return func(w *Worker) {
		w.jobs = repo
	}
}

// WithUnitHook registers a callback run when a unit reaches a terminal state.
func WithUnitHook(fn func(status job.Status)) WorkerOption {
	return func(w *Worker) {
		w.onUnit = fn
	}
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, processor Processor, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		queue:     q,
		processor: processor,
		jobs:      job.NewMemoryRepository(0),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.status.Store(&Status{UpdatedAt: w.now()})
	return w
}

// Queue returns the worker's queue.
func (w *Worker) Queue() *Queue {
	return w.queue
}

// Enqueue adds a unit and returns immediately.
func (w *Worker) Enqueue(projectID string, clipIDs []string) (Unit, error) {
	if projectID == "" || len(clipIDs) == 0 {
		return Unit{}, ErrInvalidUnit
	}
	w.mu.Lock()
	u := Unit{
		ID:         id.Generate(),
		ProjectID:  projectID,
		ClipIDs:    slices.Clone(clipIDs),
		EnqueuedAt: w.now(),
		epoch:      w.epoch.Load(),
	}
	w.save(job.NewWithID(u.ID, u.ProjectID, u.ClipIDs))
	w.queue.Push(u)
	w.mu.Unlock()
	w.logger.Info("unit enqueued",
		slog.String("unit", u.ID),
		slog.String("project", u.ProjectID),
		slog.Int("clips", len(u.ClipIDs)),
	)
	return u, nil
}

// Status returns a snapshot of the worker state.
func (w *Worker) Status() Status {
	s := *w.status.Load()
	s.QueueDepth = w.queue.Len()
	return s
}

// Stop cancels the unit in flight at its next checkpoint and discards every
// queued unit. Units enqueued afterwards run normally. It returns the number
// of discarded units.
func (w *Worker) Stop() int {
	w.mu.Lock()
	w.epoch.Add(1)
	drained := w.queue.Drain()
	w.mu.Unlock()
	for _, u := range drained {
		w.finishRecord(u.ID, func(j *job.Job) error { return j.Cancel() })
	}
	w.logger.Info("stop requested", slog.Int("discarded", len(drained)))
	return len(drained)
}

// Run processes units until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.publish(func(s *Status) { *s = s.idle() })
	w.logger.Info("worker started")
	for {
		u, err := w.queue.Pop(ctx)
		if err != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		w.process(ctx, u)
	}
}

// process runs one unit. Panics are recovered so the loop never dies.
func (w *Worker) process(ctx context.Context, u Unit) {
	log := w.logger.With(slog.String("unit", u.ID), slog.String("project", u.ProjectID))
	cancelled := func() bool { return w.epoch.Load() != u.epoch }

	defer w.publish(func(s *Status) { *s = s.idle() })
	defer func() {
		if r := recover(); r != nil {
			log.Error("unit panicked", slog.Any("panic", r))
			w.finishRecord(u.ID, func(j *job.Job) error { return j.Fail(fmt.Sprintf("panic: %v", r)) })
		}
	}()

	if cancelled() {
		log.Info("unit discarded by stop")
		w.finishRecord(u.ID, func(j *job.Job) error { return j.Cancel() })
		return
	}

	w.publish(func(s *Status) {
		*s = s.idle()
		s.Running = true
		s.UnitID = u.ID
		s.ProjectID = u.ProjectID
	})
	w.updateRecord(u.ID, func(j *job.Job) error { return j.Start() })
	log.Info("unit started", slog.Duration("waited", w.now().Sub(u.EnqueuedAt)))

	batch := pipeline.Batch{ID: u.ID, ProjectID: u.ProjectID, ClipIDs: u.ClipIDs}
	report, err := w.processor.ProcessUnit(ctx, batch, cancelled, w)
	if err != nil {
		log.Error("unit failed", slog.String("kind", pipeline.Kind(err)), slog.String("error", err.Error()))
		w.finishRecord(u.ID, func(j *job.Job) error { return j.Fail(err.Error()) })
		return
	}

	w.finishRecord(u.ID, func(j *job.Job) error {
		for clipID, state := range report.Clips {
			j.SetClip(clipID, state.String())
		}
		j.Skipped = report.Skipped
		j.FinalPath = report.FinalPath
		if report.StitchErr != nil {
			j.StitchError = report.StitchErr.Error()
		}
		if report.Cancelled {
			return j.Cancel()
		}
		return j.Complete()
	})
	log.Info("unit finished",
		slog.Int("committed", len(report.Committed())),
		slog.Bool("cancelled", report.Cancelled),
		slog.Bool("stitched", report.Stitched),
	)
}

// ClipStarted implements pipeline.Observer.
func (w *Worker) ClipStarted(_, clipID string) {
	w.publish(func(s *Status) {
		s.ClipID = clipID
		s.PassIndex = 0
	})
}

// PassStarted implements pipeline.Observer.
func (w *Worker) PassStarted(_, clipID string, passIndex int) {
	w.publish(func(s *Status) {
		s.ClipID = clipID
		s.PassIndex = passIndex
	})
}

// PassFinished implements pipeline.Observer.
func (w *Worker) PassFinished(string, string, int, error) {}

// ClipFinished implements pipeline.Observer. Only committed clips become
// LastCompleted.
func (w *Worker) ClipFinished(_, clipID string, state pipeline.ClipState) {
	w.publish(func(s *Status) {
		s.ClipID = ""
		s.PassIndex = 0
		if state == pipeline.StateCommitted {
			s.LastCompleted = clipID
		}
	})
}

// publish swaps in a modified copy of the current status. Only the worker
// goroutine writes, so load-modify-store does not race with other writers.
func (w *Worker) publish(mutate func(s *Status)) {
	next := *w.status.Load()
	mutate(&next)
	next.QueueDepth = 0
	next.UpdatedAt = w.now()
	w.status.Store(&next)
}

func (w *Worker) save(j *job.Job) {
	if err := w.jobs.Save(context.Background(), j); err != nil {
		w.logger.Warn("could not record unit", slog.String("unit", j.ID), slog.String("error", err.Error()))
	}
}

// updateRecord applies fn to the stored record of a unit.
func (w *Worker) updateRecord(unitID string, fn func(j *job.Job) error) *job.Job {
	j, err := w.jobs.FindByID(context.Background(), unitID)
	if err != nil {
		return nil
	}
	if err := fn(j); err != nil {
		w.logger.Warn("unit record not updated", slog.String("unit", unitID), slog.String("error", err.Error()))
		return nil
	}
	w.save(j)
	return j
}

// finishRecord moves a unit record to a terminal state and runs the unit hook.
func (w *Worker) finishRecord(unitID string, fn func(j *job.Job) error) {
	j := w.updateRecord(unitID, fn)
	if j != nil && w.onUnit != nil {
		w.onUnit(j.Status)
	}
}

var _ pipeline.Observer = (*Worker)(nil)
