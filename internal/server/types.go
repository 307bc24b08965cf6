// Package server exposes the worker, the stitch stage and the unit history
// over HTTP. DTOs live here, separate from domain types.
package server

import "github.com/maauso/charswap/internal/pipeline"

// EnqueueRequest is the HTTP request body for queueing a unit.
type EnqueueRequest struct {
	// ProjectID names the project directory.
	ProjectID string `json:"project_id" validate:"required,excludesall=/\\"`
	// ClipIDs are processed in the given order.
	ClipIDs []string `json:"clip_ids" validate:"required,min=1,dive,required"`
}

// EnqueueResponse is the HTTP response after queueing a unit.
type EnqueueResponse struct {
	UnitID     string `json:"unit_id"`
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
	// Clips is set when a whole project was queued.
	Clips int `json:"clips,omitempty"`
}

// MissingMasksResponse is returned when a whole-project run is refused.
type MissingMasksResponse struct {
	Error   string             `json:"error"`
	Code    string             `json:"code"`
	Missing []pipeline.MaskRef `json:"missing"`
}

// ProjectsResponse lists the projects that carry a profile.
type ProjectsResponse struct {
	Projects []string `json:"projects"`
}

// ResetResponse reports a project reset.
type ResetResponse struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Removed   int    `json:"removed"`
}

// StopResponse reports how many queued units a stop discarded.
type StopResponse struct {
	Discarded int `json:"discarded"`
}

// ClipsResponse lists the derived status of a project's clips.
type ClipsResponse struct {
	ProjectID string              `json:"project_id"`
	Clips     []pipeline.ClipView `json:"clips"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
