package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/media"
	"github.com/maauso/charswap/internal/pipeline"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/queue"
	"github.com/maauso/charswap/internal/stitch"
)

// mockScheduler implements Scheduler for testing.
type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Enqueue(projectID string, clipIDs []string) (queue.Unit, error) {
	args := m.Called(projectID, clipIDs)
	return args.Get(0).(queue.Unit), args.Error(1)
}

func (m *mockScheduler) Status() queue.Status {
	args := m.Called()
	return args.Get(0).(queue.Status)
}

func (m *mockScheduler) Stop() int {
	args := m.Called()
	return args.Int(0)
}

// mockStitcher implements Stitcher for testing.
type mockStitcher struct {
	mock.Mock
}

func (m *mockStitcher) Run(ctx context.Context, projectID string) (stitch.Result, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(stitch.Result), args.Error(1)
}

// mockInspector implements Inspector for testing.
type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) Clips(ctx context.Context, projectID string) ([]pipeline.ClipView, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipeline.ClipView), args.Error(1)
}

func (m *mockInspector) Plan(ctx context.Context, projectID string) (pipeline.Plan, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(pipeline.Plan), args.Error(1)
}

// mockProjects implements ProjectCatalog for testing.
type mockProjects struct {
	mock.Mock
}

func (m *mockProjects) Exists(ctx context.Context, id string) bool {
	args := m.Called(ctx, id)
	return args.Bool(0)
}

func (m *mockProjects) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// mockResetter implements Resetter for testing.
type mockResetter struct {
	mock.Mock
}

func (m *mockResetter) Reset(projectID string) (int, error) {
	args := m.Called(projectID)
	return args.Int(0), args.Error(1)
}

// mockFrames implements FrameSource for testing.
type mockFrames struct {
	mock.Mock
}

func (m *mockFrames) Frame(ctx context.Context, projectID, clipID string, n int) (string, error) {
	args := m.Called(ctx, projectID, clipID, n)
	return args.String(0), args.Error(1)
}

type testDeps struct {
	scheduler *mockScheduler
	stitcher  *mockStitcher
	inspector *mockInspector
	projects  *mockProjects
	resetter  *mockResetter
	frames    *mockFrames
	units     *job.MemoryRepository
}

func newTestHandlers(t *testing.T) (*Handlers, *testDeps) {
	t.Helper()
	d := &testDeps{
		scheduler: &mockScheduler{},
		stitcher:  &mockStitcher{},
		inspector: &mockInspector{},
		projects:  &mockProjects{},
		resetter:  &mockResetter{},
		frames:    &mockFrames{},
		units:     job.NewMemoryRepository(0),
	}
	t.Cleanup(func() {
		d.scheduler.AssertExpectations(t)
		d.stitcher.AssertExpectations(t)
		d.inspector.AssertExpectations(t)
		d.projects.AssertExpectations(t)
		d.resetter.AssertExpectations(t)
		d.frames.AssertExpectations(t)
	})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandlers(Deps{
		Scheduler: d.scheduler,
		Stitcher:  d.stitcher,
		Inspector: d.inspector,
		Projects:  d.projects,
		Resetter:  d.resetter,
		Frames:    d.frames,
		Units:     d.units,
	}, logger), d
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestEnqueue_Success(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.scheduler.On("Enqueue", "P1", []string{"A", "B"}).Return(queue.Unit{ID: "unit-1", ProjectID: "P1"}, nil)
	d.scheduler.On("Status").Return(queue.Status{QueueDepth: 1})

	body, _ := json.Marshal(EnqueueRequest{ProjectID: "P1", ClipIDs: []string{"A", "B"}})
	req := httptest.NewRequest(http.MethodPost, "/queue", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Enqueue(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp EnqueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unit-1", resp.UnitID)
	assert.Equal(t, "IN_QUEUE", resp.Status)
	assert.Equal(t, 1, resp.QueueDepth)
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Enqueue(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec.Body).Code)
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing project", `{"clip_ids":["A"]}`},
		{"missing clips", `{"project_id":"P1"}`},
		{"empty clip list", `{"project_id":"P1","clip_ids":[]}`},
		{"blank clip id", `{"project_id":"P1","clip_ids":["A",""]}`},
		{"path in project id", `{"project_id":"../P1","clip_ids":["A"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandlers(t)

			req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.Enqueue(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
		})
	}
}

func TestEnqueue_UnknownProject(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "ghost").Return(false)

	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{"project_id":"ghost","clip_ids":["A"]}`))
	rec := httptest.NewRecorder()

	h.Enqueue(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", decodeError(t, rec.Body).Code)
	d.scheduler.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestStatus(t *testing.T) {
	h, d := newTestHandlers(t)
	d.scheduler.On("Status").Return(queue.Status{
		Running:       true,
		UnitID:        "unit-1",
		ProjectID:     "P1",
		ClipID:        "A",
		PassIndex:     2,
		QueueDepth:    3,
		LastCompleted: "Z",
	})

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, true, got["running"])
	assert.Equal(t, "A", got["clip_id"])
	assert.Equal(t, 2.0, got["pass_index"])
	assert.Equal(t, 3.0, got["queue_depth"])
	assert.Equal(t, "Z", got["last_completed"])
}

func TestStop(t *testing.T) {
	h, d := newTestHandlers(t)
	d.scheduler.On("Stop").Return(2).Once()

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp StopResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Discarded)
}

func TestStitch(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"unknown project", fmt.Errorf("load project: %w", project.ErrProjectNotFound), http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{"no usable clips", fmt.Errorf("%w: no usable clips", stitch.ErrStitch), http.StatusUnprocessableEntity, "STITCH_FAILED"},
		{"broken profile", fmt.Errorf("%w: duplicate clip id", project.ErrStructural), http.StatusUnprocessableEntity, "INVALID_PROJECT"},
		{"other", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandlers(t)
			result := stitch.Result{Path: "/out/P1/P1_final.mp4", Entries: []stitch.Entry{{ClipID: "A", Path: "/out/P1/clips/A.mp4", Source: stitch.SourceCommitted}}}
			d.stitcher.On("Run", mock.Anything, "P1").Return(result, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/projects/P1/stitch", nil)
			req.SetPathValue("id", "P1")
			rec := httptest.NewRecorder()

			h.Stitch(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec.Body).Code)
				return
			}
			var got stitch.Result
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, result, got)
		})
	}
}

func TestClips(t *testing.T) {
	h, d := newTestHandlers(t)
	views := []pipeline.ClipView{{ID: "A", Passes: 2, Done: true, Artifact: "/out/P1/clips/A.mp4"}, {ID: "B"}}
	d.inspector.On("Clips", mock.Anything, "P1").Return(views, nil)

	req := httptest.NewRequest(http.MethodGet, "/projects/P1/clips", nil)
	req.SetPathValue("id", "P1")
	rec := httptest.NewRecorder()

	h.Clips(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ClipsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "P1", resp.ProjectID)
	assert.Equal(t, views, resp.Clips)
}

func TestClips_UnknownProject(t *testing.T) {
	h, d := newTestHandlers(t)
	d.inspector.On("Clips", mock.Anything, "ghost").Return(nil, project.ErrProjectNotFound)

	req := httptest.NewRequest(http.MethodGet, "/projects/ghost/clips", nil)
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()

	h.Clips(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProjects(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("List", mock.Anything).Return([]string{"P1", "P2"}, nil)

	rec := httptest.NewRecorder()
	h.ListProjects(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"projects":["P1","P2"]}`, rec.Body.String())
}

func TestListProjects_Failure(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("List", mock.Anything).Return(nil, errors.New("permission denied"))

	rec := httptest.NewRecorder()
	h.ListProjects(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PROJECT_LIST_FAILED", decodeError(t, rec.Body).Code)
}

func queueAllRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/projects/"+id+"/queue", nil)
	req.SetPathValue("id", id)
	return req
}

func TestQueueAll_Success(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.inspector.On("Plan", mock.Anything, "P1").Return(pipeline.Plan{ClipIDs: []string{"A", "B", "C"}}, nil)
	d.scheduler.On("Enqueue", "P1", []string{"A", "B", "C"}).Return(queue.Unit{ID: "unit-9", ProjectID: "P1"}, nil)
	d.scheduler.On("Status").Return(queue.Status{QueueDepth: 2})

	rec := httptest.NewRecorder()
	h.QueueAll(rec, queueAllRequest("P1"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp EnqueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, EnqueueResponse{UnitID: "unit-9", Status: "IN_QUEUE", QueueDepth: 2, Clips: 3}, resp)
}

func TestQueueAll_MissingMasks(t *testing.T) {
	h, d := newTestHandlers(t)
	missing := []pipeline.MaskRef{{ClipID: "A", Pass: 1}, {ClipID: "C", Pass: 2}}
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.inspector.On("Plan", mock.Anything, "P1").Return(pipeline.Plan{ClipIDs: []string{"A", "B", "C"}, Missing: missing}, nil)

	rec := httptest.NewRecorder()
	h.QueueAll(rec, queueAllRequest("P1"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp MissingMasksResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "MISSING_MASKS", resp.Code)
	assert.Equal(t, missing, resp.Missing)
	d.scheduler.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestQueueAll_UnknownProject(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "ghost").Return(false)

	rec := httptest.NewRecorder()
	h.QueueAll(rec, queueAllRequest("ghost"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", decodeError(t, rec.Body).Code)
}

func TestQueueAll_BrokenProfile(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.inspector.On("Plan", mock.Anything, "P1").Return(pipeline.Plan{}, fmt.Errorf("%w: duplicate clip", project.ErrStructural))

	rec := httptest.NewRecorder()
	h.QueueAll(rec, queueAllRequest("P1"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_PROJECT", decodeError(t, rec.Body).Code)
}

func resetRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/projects/"+id+"/reset", nil)
	req.SetPathValue("id", id)
	return req
}

func TestReset(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.scheduler.On("Status").Return(queue.Status{Running: true, ProjectID: "P2"})
	d.resetter.On("Reset", "P1").Return(4, nil)

	rec := httptest.NewRecorder()
	h.Reset(rec, resetRequest("P1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"project_id":"P1","status":"reset","removed":4}`, rec.Body.String())
}

func TestReset_Refused(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		status   queue.Status
		wantCode int
		wantErr  string
	}{
		{"unknown project", false, queue.Status{}, http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{"project in flight", true, queue.Status{Running: true, ProjectID: "P1"}, http.StatusConflict, "PROJECT_BUSY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandlers(t)
			d.projects.On("Exists", mock.Anything, "P1").Return(tt.exists)
			if tt.exists {
				d.scheduler.On("Status").Return(tt.status)
			}

			rec := httptest.NewRecorder()
			h.Reset(rec, resetRequest("P1"))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec.Body).Code)
			d.resetter.AssertNotCalled(t, "Reset", mock.Anything)
		})
	}
}

func TestReset_Failure(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.scheduler.On("Status").Return(queue.Status{})
	d.resetter.On("Reset", "P1").Return(1, errors.New("read-only file system"))

	rec := httptest.NewRecorder()
	h.Reset(rec, resetRequest("P1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "RESET_FAILED", decodeError(t, rec.Body).Code)
}

func frameRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetPathValue("id", "P1")
	req.SetPathValue("clip", "A")
	return req
}

func TestFrame(t *testing.T) {
	h, d := newTestHandlers(t)
	path := filepath.Join(t.TempDir(), "A_f12.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o600))
	d.frames.On("Frame", mock.Anything, "P1", "A", 12).Return(path, nil)

	rec := httptest.NewRecorder()
	h.Frame(rec, frameRequest("/projects/P1/clips/A/frame?n=12"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, rec.Body.Bytes())
}

func TestFrame_DefaultsToFirstFrame(t *testing.T) {
	h, d := newTestHandlers(t)
	path := filepath.Join(t.TempDir(), "A_f0.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o600))
	d.frames.On("Frame", mock.Anything, "P1", "A", 0).Return(path, nil)

	rec := httptest.NewRecorder()
	h.Frame(rec, frameRequest("/projects/P1/clips/A/frame"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFrame_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown project", fmt.Errorf("load project: %w", project.ErrProjectNotFound), http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{"unknown clip", fmt.Errorf("%w: P1/A", project.ErrClipNotFound), http.StatusNotFound, "CLIP_NOT_FOUND"},
		{"missing input", fmt.Errorf("%w: source video a.mp4", assets.ErrAssetMissing), http.StatusNotFound, "SOURCE_MISSING"},
		{"past the end", fmt.Errorf("extract: %w", media.ErrFrameOutOfRange), http.StatusNotFound, "FRAME_OUT_OF_RANGE"},
		{"tool failure", &media.FFmpegError{Err: errors.New("exit status 1")}, http.StatusInternalServerError, "FRAME_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandlers(t)
			d.frames.On("Frame", mock.Anything, "P1", "A", 3).Return("", tt.err)

			rec := httptest.NewRecorder()
			h.Frame(rec, frameRequest("/projects/P1/clips/A/frame?n=3"))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec.Body).Code)
		})
	}
}

func TestFrame_InvalidIndex(t *testing.T) {
	for _, raw := range []string{"-1", "first"} {
		t.Run(raw, func(t *testing.T) {
			h, _ := newTestHandlers(t)

			rec := httptest.NewRecorder()
			h.Frame(rec, frameRequest("/projects/P1/clips/A/frame?n="+raw))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_FRAME", decodeError(t, rec.Body).Code)
		})
	}
}

func TestUnits(t *testing.T) {
	h, d := newTestHandlers(t)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, d.units.Save(ctx, job.NewWithID(id, "P1", []string{"A"})))
	}

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListUnits(rec, httptest.NewRequest(http.MethodGet, "/units", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var got []job.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 3)
		assert.Equal(t, "u1", got[0].ID)
	})

	t.Run("limit keeps most recent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListUnits(rec, httptest.NewRequest(http.MethodGet, "/units?limit=2", nil))

		var got []job.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 2)
		assert.Equal(t, "u2", got[0].ID)
		assert.Equal(t, "u3", got[1].ID)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListUnits(rec, httptest.NewRequest(http.MethodGet, "/units?limit=zero", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_LIMIT", decodeError(t, rec.Body).Code)
	})

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/units/u2", nil)
		req.SetPathValue("id", "u2")
		rec := httptest.NewRecorder()

		h.GetUnit(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got job.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "u2", got.ID)
		assert.Equal(t, job.StatusInQueue, got.Status)
	})

	t.Run("get unknown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/units/nope", nil)
		req.SetPathValue("id", "nope")
		rec := httptest.NewRecorder()

		h.GetUnit(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "UNIT_NOT_FOUND", decodeError(t, rec.Body).Code)
	})
}

func TestUnits_EmptyListIsArray(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.ListUnits(rec, httptest.NewRequest(http.MethodGet, "/units", nil))

	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRouter_Integration(t *testing.T) {
	h, d := newTestHandlers(t)
	d.projects.On("Exists", mock.Anything, "P1").Return(true)
	d.scheduler.On("Enqueue", "P1", []string{"A"}).Return(queue.Unit{ID: "unit-1"}, nil)
	d.scheduler.On("Status").Return(queue.Status{})
	d.projects.On("List", mock.Anything).Return([]string{"P1"}, nil)
	d.resetter.On("Reset", "P1").Return(0, nil)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "charswap_queue_depth 0\n")
	})
	router := NewRouter(h, logger, Config{AllowedOrigins: []string{"*"}, Metrics: metrics})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{"project_id":"P1","clip_ids":["A"]}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/P1/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "charswap_queue_depth")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_NoMetricsHandler(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, slog.New(slog.NewTextHandler(io.Discard, nil)), DefaultConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	h, _ := newTestHandlers(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, logger, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/queue", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := Recover(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec.Body).Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("first"), mark("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
