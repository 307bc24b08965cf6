package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/charswap/internal/comfy"
	"github.com/maauso/charswap/internal/retry"
)

const testTemplate = `{
  "1": {"class_type": "LoadVideo", "inputs": {"video": "{{source_video}}"}},
  "2": {"class_type": "LoadImage", "inputs": {"image": "{{character_image}}"}},
  "3": {"class_type": "PointsMask", "inputs": {"positive": "{{positive_points}}", "negative": "{{negative_points}}", "enabled": "{{mask_enabled}}"}},
  "4": {"class_type": "Sampler", "inputs": {"seed": "{{seed}}", "width": "{{width}}", "height": "{{height}}", "steps": 6}},
  "9": {"class_type": "SaveVideo", "inputs": {"filename_prefix": "{{output_prefix}}", "images": ["4", 0]}}
}`

// fakeAPI is an in-memory compute service.
type fakeAPI struct {
	mu sync.Mutex

	uploadFailures map[string]int // remaining transient failures per file name
	uploadCalls    map[string]int

	queueErr error
	queued   []map[string]any

	// history returns the response of the n-th (1-based) history call.
	history      func(n int) (comfy.HistoryEntry, bool, error)
	historyCalls int

	downloadFailures int
	downloadCalls    int

	// events are delivered on the stream; nil makes Events fail.
	events []comfy.Event
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		uploadFailures: map[string]int{},
		uploadCalls:    map[string]int{},
		history: func(int) (comfy.HistoryEntry, bool, error) {
			return completedEntry("9", "videos", "proj_c1_p1_00001.mp4"), true, nil
		},
	}
}

func completedEntry(node, kind, filename string) comfy.HistoryEntry {
	return comfy.HistoryEntry{
		Outputs: map[string]comfy.NodeOutput{
			node: {kind: {{Filename: filename, Type: "output"}}},
		},
		Status: comfy.HistoryStatus{StatusStr: "success", Completed: true},
	}
}

func (f *fakeAPI) UploadFile(_ context.Context, path string) (comfy.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(path)
	f.uploadCalls[name]++
	if f.uploadFailures[name] > 0 {
		f.uploadFailures[name]--
		return comfy.UploadedFile{}, retry.Transient(errors.New("connection reset by peer"))
	}
	return comfy.UploadedFile{Name: name, Type: "input"}, nil
}

func (f *fakeAPI) QueuePrompt(_ context.Context, workflow map[string]any, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return "", f.queueErr
	}
	f.queued = append(f.queued, workflow)
	return "p-1", nil
}

func (f *fakeAPI) History(_ context.Context, _ string) (comfy.HistoryEntry, bool, error) {
	f.mu.Lock()
	f.historyCalls++
	n := f.historyCalls
	f.mu.Unlock()
	return f.history(n)
}

func (f *fakeAPI) Download(_ context.Context, file comfy.OutputFile, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	if f.downloadFailures > 0 {
		f.downloadFailures--
		return retry.Transient(comfy.ErrNotReady)
	}
	return os.WriteFile(destPath, []byte("artifact:"+file.Filename), 0o600)
}

func (f *fakeAPI) Events(ctx context.Context, _ string) (<-chan comfy.Event, error) {
	if f.events == nil {
		return nil, errors.New("websocket: bad handshake")
	}
	ch := make(chan comfy.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeAPI) lastWorkflow() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil
	}
	return f.queued[len(f.queued)-1]
}

var _ comfy.API = (*fakeAPI)(nil)
