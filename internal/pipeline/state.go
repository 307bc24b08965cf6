// Package pipeline runs the passes of a clip and the clips of a queued unit.
package pipeline

import (
	"context"
	"errors"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/generator"
	"github.com/maauso/charswap/internal/project"
)

// ClipState is the in-memory state of a clip during one unit.
type ClipState int

// Clip states.
const (
	StatePending ClipState = iota
	StateRunning
	StateCommitted
	StateAborted
)

func (s ClipState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s ClipState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCancelled is returned when a stop request is observed at a checkpoint.
var ErrCancelled = errors.New("pipeline: cancelled")

// ErrNoArtifact is returned when a clip's passes left its original input in
// place, so there is nothing to commit.
var ErrNoArtifact = errors.New("pipeline: passes produced no new artifact")

// Error kinds used in logs and metrics.
const (
	KindAssetMissing    = "asset_missing"
	KindUpload          = "upload"
	KindSubmission      = "submission"
	KindTrackingTimeout = "tracking_timeout"
	KindRetrieval       = "retrieval"
	KindStructural      = "structural"
	KindCancelled       = "cancelled"
	KindInternal        = "internal"
)

// Kind classifies a pass or clip error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, assets.ErrAssetMissing):
		return KindAssetMissing
	case errors.Is(err, generator.ErrUpload):
		return KindUpload
	case errors.Is(err, generator.ErrSubmission):
		return KindSubmission
	case errors.Is(err, generator.ErrTrackingTimeout):
		return KindTrackingTimeout
	case errors.Is(err, generator.ErrRetrieval):
		return KindRetrieval
	case errors.Is(err, project.ErrStructural):
		return KindStructural
	default:
		return KindInternal
	}
}

// Observer receives progress notifications from the worker goroutine.
type Observer interface {
	ClipStarted(projectID, clipID string)
	PassStarted(projectID, clipID string, passIndex int)
	PassFinished(projectID, clipID string, passIndex int, err error)
	ClipFinished(projectID, clipID string, state ClipState)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) ClipStarted(string, string)              {}
func (NopObserver) PassStarted(string, string, int)         {}
func (NopObserver) PassFinished(string, string, int, error) {}
func (NopObserver) ClipFinished(string, string, ClipState)  {}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) ClipStarted(p, c string) {
	for _, o := range m {
		o.ClipStarted(p, c)
	}
}

func (m multiObserver) PassStarted(p, c string, i int) {
	for _, o := range m {
		o.PassStarted(p, c, i)
	}
}

func (m multiObserver) PassFinished(p, c string, i int, err error) {
	for _, o := range m {
		o.PassFinished(p, c, i, err)
	}
}

func (m multiObserver) ClipFinished(p, c string, s ClipState) {
	for _, o := range m {
		o.ClipFinished(p, c, s)
	}
}
