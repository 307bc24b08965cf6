// Package generator submits one character-substitution request to the compute
// service and blocks until the produced artifact is available locally.
package generator

import (
	"context"
	"errors"

	"github.com/maauso/charswap/internal/project"
)

// Error kinds surfaced by Submit. Every error returned by Submit wraps exactly
// one of them.
var (
	// ErrUpload is returned when an input asset could not be uploaded.
	ErrUpload = errors.New("generator: upload failed")
	// ErrSubmission is returned when the workflow could not be submitted.
	ErrSubmission = errors.New("generator: submission failed")
	// ErrTrackingTimeout is returned when completion was not observed in time.
	ErrTrackingTimeout = errors.New("generator: tracking timed out")
	// ErrRetrieval is returned when the artifact could not be located or downloaded.
	ErrRetrieval = errors.New("generator: retrieval failed")
	// ErrExecutionFailed is reported alongside ErrTrackingTimeout when the
	// service recorded an execution error for the job.
	ErrExecutionFailed = errors.New("generator: execution failed")
)

// Request describes one generation request.
type Request struct {
	SourcePath    string                // Local source video
	CharacterPath string                // Local character reference image
	Mask          *project.MaskPointSet // Nil means unmasked
	OutputPrefix  string                // Matching hint for the produced filename
	Resolution    project.Resolution    // Generation size
	Seed          int64                 // Zero derives a time-based seed
	DestDir       string                // Directory the artifact is written to
}

// Result describes the retrieved artifact.
type Result struct {
	RemoteName string // Filename reported by the service
	Subfolder  string // Remote subfolder of the artifact
	LocalPath  string // Where the artifact was written
	PromptID   string // Service job id
}

// Generator runs generation requests.
type Generator interface {
	// Submit uploads the inputs, submits the job, waits for it to finish and
	// downloads the artifact.
	Submit(ctx context.Context, req Request) (Result, error)
}
