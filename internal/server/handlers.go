package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/media"
	"github.com/maauso/charswap/internal/pipeline"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/queue"
	"github.com/maauso/charswap/internal/stitch"
)

// Scheduler is the worker surface the handlers drive.
type Scheduler interface {
	Enqueue(projectID string, clipIDs []string) (queue.Unit, error)
	Status() queue.Status
	Stop() int
}

// Stitcher builds a project's final artifact on demand.
type Stitcher interface {
	Run(ctx context.Context, projectID string) (stitch.Result, error)
}

// Inspector derives clip status and whole-project run plans.
type Inspector interface {
	Clips(ctx context.Context, projectID string) ([]pipeline.ClipView, error)
	Plan(ctx context.Context, projectID string) (pipeline.Plan, error)
}

// ProjectCatalog finds projects on disk.
type ProjectCatalog interface {
	Exists(ctx context.Context, id string) bool
	List(ctx context.Context) ([]string, error)
}

// Resetter deletes a project's generated videos.
type Resetter interface {
	Reset(projectID string) (int, error)
}

// FrameSource returns the path of an extracted input frame.
type FrameSource interface {
	Frame(ctx context.Context, projectID, clipID string, n int) (string, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	scheduler Scheduler
	stitcher  Stitcher
	inspector Inspector
	projects  ProjectCatalog
	resetter  Resetter
	frames    FrameSource
	units     job.Repository
	validator *validator.Validate
	logger    *slog.Logger
}

// Deps groups the collaborators of Handlers.
type Deps struct {
	Scheduler Scheduler
	Stitcher  Stitcher
	Inspector Inspector
	Projects  ProjectCatalog
	Resetter  Resetter
	Frames    FrameSource
	Units     job.Repository
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scheduler: deps.Scheduler,
		stitcher:  deps.Stitcher,
		inspector: deps.Inspector,
		projects:  deps.Projects,
		resetter:  deps.Resetter,
		frames:    deps.Frames,
		units:     deps.Units,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Enqueue handles POST /queue requests.
func (h *Handlers) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if !h.projects.Exists(r.Context(), req.ProjectID) {
		writeError(w, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}

	unit, err := h.scheduler.Enqueue(req.ProjectID, req.ClipIDs)
	if err != nil {
		h.logger.Error("failed to enqueue unit",
			slog.String("project", req.ProjectID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "ENQUEUE_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		UnitID:     unit.ID,
		Status:     string(job.StatusInQueue),
		QueueDepth: h.scheduler.Status().QueueDepth,
	})
}

// Status handles GET /status requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// Stop handles POST /stop requests.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	discarded := h.scheduler.Stop()
	writeJSON(w, http.StatusOK, StopResponse{Discarded: discarded})
}

// Stitch handles POST /projects/{id}/stitch requests. It runs synchronously.
func (h *Handlers) Stitch(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	result, err := h.stitcher.Run(r.Context(), projectID)
	if err != nil {
		h.logger.Error("stitch request failed",
			slog.String("project", projectID),
			slog.String("error", err.Error()),
		)
		status, code := classify(err)
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Clips handles GET /projects/{id}/clips requests.
func (h *Handlers) Clips(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	views, err := h.inspector.Clips(r.Context(), projectID)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, ClipsResponse{ProjectID: projectID, Clips: views})
}

// ListProjects handles GET /projects requests.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := h.projects.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list projects", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list projects", "PROJECT_LIST_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, ProjectsResponse{Projects: ids})
}

// QueueAll handles POST /projects/{id}/queue requests. Every clip is queued
// in project order, but only when every masked pass has its mask file.
func (h *Handlers) QueueAll(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if !h.projects.Exists(r.Context(), projectID) {
		writeError(w, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}

	plan, err := h.inspector.Plan(r.Context(), projectID)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, err.Error(), code)
		return
	}
	if len(plan.Missing) > 0 {
		h.logger.Warn("queue-all refused, masks missing",
			slog.String("project", projectID),
			slog.Int("missing", len(plan.Missing)),
		)
		writeJSON(w, http.StatusConflict, MissingMasksResponse{
			Error:   "masks missing for " + strconv.Itoa(len(plan.Missing)) + " pass(es)",
			Code:    "MISSING_MASKS",
			Missing: plan.Missing,
		})
		return
	}

	unit, err := h.scheduler.Enqueue(projectID, plan.ClipIDs)
	if err != nil {
		h.logger.Error("failed to enqueue unit",
			slog.String("project", projectID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "ENQUEUE_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		UnitID:     unit.ID,
		Status:     string(job.StatusInQueue),
		QueueDepth: h.scheduler.Status().QueueDepth,
		Clips:      len(plan.ClipIDs),
	})
}

// Reset handles POST /projects/{id}/reset requests. Masks survive a reset.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if !h.projects.Exists(r.Context(), projectID) {
		writeError(w, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}
	if st := h.scheduler.Status(); st.Running && st.ProjectID == projectID {
		writeError(w, http.StatusConflict, "project is being processed", "PROJECT_BUSY")
		return
	}

	removed, err := h.resetter.Reset(projectID)
	if err != nil {
		h.logger.Error("reset failed",
			slog.String("project", projectID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reset project", "RESET_FAILED")
		return
	}

	h.logger.Info("project reset",
		slog.String("project", projectID),
		slog.Int("removed", removed),
	)
	writeJSON(w, http.StatusOK, ResetResponse{ProjectID: projectID, Status: "reset", Removed: removed})
}

// Frame handles GET /projects/{id}/clips/{clip}/frame requests. The n query
// parameter selects the zero-based frame index and defaults to 0.
func (h *Handlers) Frame(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	clipID := r.PathValue("clip")

	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer", "INVALID_FRAME")
			return
		}
		n = v
	}

	path, err := h.frames.Frame(r.Context(), projectID, clipID, n)
	if err != nil {
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("frame extraction failed",
				slog.String("project", projectID),
				slog.String("clip", clipID),
				slog.Int("frame", n),
				slog.String("error", err.Error()),
			)
			code = "FRAME_FAILED"
		}
		writeError(w, status, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// ListUnits handles GET /units requests. An optional limit keeps the most
// recent records.
func (h *Handlers) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.units.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list units", "UNIT_LIST_FAILED")
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		if len(units) > limit {
			units = units[len(units)-limit:]
		}
	}
	if units == nil {
		units = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, units)
}

// GetUnit handles GET /units/{id} requests.
func (h *Handlers) GetUnit(w http.ResponseWriter, r *http.Request) {
	unitID := r.PathValue("id")

	unit, err := h.units.FindByID(r.Context(), unitID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "unit not found", "UNIT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get unit",
			slog.String("unit", unitID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get unit", "UNIT_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// classify maps domain errors to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, project.ErrClipNotFound):
		return http.StatusNotFound, "CLIP_NOT_FOUND"
	case errors.Is(err, assets.ErrAssetMissing):
		return http.StatusNotFound, "SOURCE_MISSING"
	case errors.Is(err, media.ErrFrameOutOfRange):
		return http.StatusNotFound, "FRAME_OUT_OF_RANGE"
	case errors.Is(err, stitch.ErrStitch):
		return http.StatusUnprocessableEntity, "STITCH_FAILED"
	case errors.Is(err, project.ErrStructural):
		return http.StatusUnprocessableEntity, "INVALID_PROJECT"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
