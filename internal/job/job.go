// Package job records the lifecycle of queued units: when a unit was
// enqueued, started and finished, and what happened to each of its clips.
package job

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// Status represents the current state of a unit.
type Status string

const (
	// StatusInQueue indicates the unit is waiting for the worker.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the worker is processing the unit.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every requested clip was visited and the
	// stitch step ran.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a unit-level failure, such as an unreadable project.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the unit was stopped or discarded from the queue.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Job is the record of one queued unit.
type Job struct {
	// ID is the unit id.
	ID string `json:"id"`
	// ProjectID is the project the unit belongs to.
	ProjectID string `json:"project_id"`
	// ClipIDs are the requested clips in caller order.
	ClipIDs []string `json:"clip_ids"`
	// Status is the current unit state.
	Status Status `json:"status"`
	// Clips maps clip ids to their final in-unit state.
	Clips map[string]string `json:"clips,omitempty"`
	// Skipped lists requested clip ids the project does not contain.
	Skipped []string `json:"skipped,omitempty"`
	// FinalPath is the stitched artifact, if the stitch step succeeded.
	FinalPath string `json:"final_path,omitempty"`
	// StitchError is set when the stitch step failed.
	StitchError string `json:"stitch_error,omitempty"`
	// Error is set when the unit failed as a whole.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// NewWithID creates a unit record with the given id in IN_QUEUE state.
func NewWithID(unitID, projectID string, clipIDs []string) *Job {
	now := time.Now()
	return &Job{
		ID:        unitID,
		ProjectID: projectID,
		ClipIDs:   slices.Clone(clipIDs),
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the unit status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the unit from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the unit to COMPLETED.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the unit to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the unit to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// SetClip records the in-unit state of one clip.
func (j *Job) SetClip(clipID, state string) {
	if j.Clips == nil {
		j.Clips = make(map[string]string)
	}
	j.Clips[clipID] = state
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the unit is in a terminal state.
func (j *Job) IsTerminal() bool {
	return len(validTransitions[j.Status]) == 0
}

// Clone returns a deep copy of the record.
func (j *Job) Clone() *Job {
	c := *j
	c.ClipIDs = slices.Clone(j.ClipIDs)
	c.Skipped = slices.Clone(j.Skipped)
	c.Clips = maps.Clone(j.Clips)
	return &c
}
