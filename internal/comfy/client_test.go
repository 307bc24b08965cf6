package comfy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/charswap/internal/retry"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithAPIKey("secret"))
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)

	_, err = NewClient("ftp://example.com")
	assert.Error(t, err)

	c, err := NewClient("https://gpu.example.com:8188/")
	require.NoError(t, err)
	assert.Equal(t, "https://gpu.example.com:8188", c.baseURL)
	assert.Equal(t, "wss://gpu.example.com:8188", c.wsURL)
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hero.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/image", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "png-bytes", string(data))
		assert.Equal(t, "hero.png", hdr.Filename)
		assert.Equal(t, "true", r.FormValue("overwrite"))
		assert.Equal(t, "input", r.FormValue("type"))
		_ = json.NewEncoder(w).Encode(UploadedFile{Name: "hero.png", Type: "input"})
	})
	c := newTestClient(t, mux)

	got, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hero.png", got.Ref())
}

func TestUploadFile_ErrorClassification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))

	tests := []struct {
		name      string
		status    int
		sentinel  error
		transient bool
	}{
		{"server error", http.StatusBadGateway, ErrServerError, true},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, ErrRequestFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.UploadFile(context.Background(), path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.transient, retry.IsTransient(err))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		c := newTestClient(t, http.NotFoundHandler())
		_, err := c.UploadFile(context.Background(), filepath.Join(dir, "absent.mp4"))
		require.Error(t, err)
		assert.False(t, retry.IsTransient(err))
	})
}

func TestQueuePrompt(t *testing.T) {
	var got promptRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"prompt_id":"p-1","number":3,"node_errors":{}}`))
	})
	c := newTestClient(t, mux)

	id, err := c.QueuePrompt(context.Background(), map[string]any{"1": map[string]any{"class_type": "LoadVideo"}}, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Contains(t, got.Prompt, "1")
}

func TestRateLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"prompt_id":"p-1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithRateLimit(0.1, 1))
	require.NoError(t, err)

	_, err = c.QueuePrompt(context.Background(), map[string]any{}, "client-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.QueuePrompt(ctx, map[string]any{}, "client-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.False(t, retry.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueuePrompt_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"node errors", `{"prompt_id":"","node_errors":{"4":{"errors":["bad input"]}}}`, ErrPromptRejected},
		{"error field", `{"error":{"type":"invalid_prompt"}}`, ErrPromptRejected},
		{"empty", `{}`, ErrNoPromptIDReturned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.QueuePrompt(context.Background(), map[string]any{}, "c")
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, retry.IsTransient(err))
		})
	}
}

func TestQueuePrompt_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"validation report", `{"error":{"type":"prompt_outputs_failed_validation","message":"Prompt outputs failed validation"},"node_errors":{"7":{"errors":[{"type":"value_not_in_list"}],"class_type":"LoadImage"}}}`, ErrPromptRejected},
		{"error only", `{"error":{"type":"invalid_prompt","message":"Cannot execute because node X does not exist."},"node_errors":{}}`, ErrPromptRejected},
		{"not json", `bad request`, ErrRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.QueuePrompt(context.Background(), map[string]any{}, "c")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, retry.IsTransient(err))
		})
	}

	t.Run("node errors are reported", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"prompt_outputs_failed_validation"},"node_errors":{"7":{"class_type":"LoadImage"}}}`))
		}))
		_, err := c.QueuePrompt(context.Background(), map[string]any{}, "c")
		assert.ErrorContains(t, err, "LoadImage")
	})
}

func TestHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p-1" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"p-1":{
			"outputs":{
				"9":{"gifs":[{"filename":"proj_c1_p1_00001.mp4","subfolder":"","type":"output"}],"animated":[true]},
				"12":{"text":["hello"]}
			},
			"status":{"status_str":"success","completed":true}}}`))
	})
	c := newTestClient(t, mux)

	entry, found, err := c.History(context.Background(), "p-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.HasOutputs())
	assert.False(t, entry.Failed())
	require.Contains(t, entry.Outputs, "9")
	assert.Equal(t, "proj_c1_p1_00001.mp4", entry.Outputs["9"]["gifs"][0].Filename)
	assert.NotContains(t, entry.Outputs["9"], "animated")
	assert.Empty(t, entry.Outputs["12"])

	_, found, err = c.History(context.Background(), "p-2")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = c.History(context.Background(), "")
	assert.ErrorIs(t, err, ErrPromptIDRequired)
}

func TestDownload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filename") != "out.mp4" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "output", q.Get("type"))
		assert.Equal(t, "sub", q.Get("subfolder"))
		_, _ = w.Write([]byte("video-bytes"))
	})
	c := newTestClient(t, mux)
	dst := filepath.Join(t.TempDir(), "out.mp4")

	require.NoError(t, c.Download(context.Background(), OutputFile{Filename: "out.mp4", Subfolder: "sub"}, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	err = c.Download(context.Background(), OutputFile{Filename: "missing.mp4"}, dst)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.True(t, retry.IsTransient(err))
}

func TestEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-1", r.URL.Query().Get("clientId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":1}}}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":"9","prompt_id":"p-1"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"p-1"}}`))
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := c.Events(ctx, "client-1")
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "status", got[0].Type)
	assert.False(t, got[1].Finished)
	assert.True(t, got[2].Finished)
	assert.Equal(t, "p-1", got[2].PromptID)
}

func TestEvents_DialFailure(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Events(context.Background(), "client-1")
	assert.Error(t, err)
}

func TestWSMessage_ToEvent(t *testing.T) {
	tests := []struct {
		raw      string
		finished bool
		failed   bool
	}{
		{`{"type":"executing","data":{"node":null,"prompt_id":"p"}}`, true, false},
		{`{"type":"executing","data":{"node":"3","prompt_id":"p"}}`, false, false},
		{`{"type":"execution_success","data":{"prompt_id":"p"}}`, true, false},
		{`{"type":"execution_error","data":{"prompt_id":"p"}}`, false, true},
		{`{"type":"progress","data":{"prompt_id":"p"}}`, false, false},
	}
	for _, tt := range tests {
		var msg wsMessage
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
		ev := msg.toEvent()
		assert.Equal(t, tt.finished, ev.Finished, tt.raw)
		assert.Equal(t, tt.failed, ev.Failed, tt.raw)
	}
}

func TestHasContent(t *testing.T) {
	assert.False(t, hasContent(nil))
	assert.False(t, hasContent(json.RawMessage(`{}`)))
	assert.False(t, hasContent(json.RawMessage(`null`)))
	assert.True(t, hasContent(json.RawMessage(`{"a":1}`)))
}
