package queue

import "time"

// Status is a snapshot of what the worker is doing. A snapshot is never
// modified after it is published, so every field of a read belongs to the
// same moment.
type Status struct {
	Running       bool      `json:"running"`
	UnitID        string    `json:"unit_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	ClipID        string    `json:"clip_id,omitempty"`
	PassIndex     int       `json:"pass_index,omitempty"`
	QueueDepth    int       `json:"queue_depth"`
	LastCompleted string    `json:"last_completed,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// idle returns the status with the unit fields cleared. LastCompleted is
// kept across units.
func (s Status) idle() Status {
	return Status{LastCompleted: s.LastCompleted}
}
