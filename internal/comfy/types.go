// Package comfy provides an HTTP and websocket client for a node-graph
// compute service: asset upload, workflow submission, job history, artifact
// download and the per-client event stream.
package comfy

import "encoding/json"

// UploadedFile is the service's reference to an uploaded input asset.
type UploadedFile struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Ref returns the name a workflow uses to refer to the asset.
func (u UploadedFile) Ref() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

// OutputFile is one artifact listed in a job's history.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// NodeOutput maps an output kind ("videos", "gifs", "images", ...) to the
// files a node produced. Kinds whose values are not file lists are dropped.
type NodeOutput map[string][]OutputFile

// UnmarshalJSON keeps only the keys that decode as non-empty file lists.
func (n *NodeOutput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(NodeOutput, len(raw))
	for kind, msg := range raw {
		var files []OutputFile
		if err := json.Unmarshal(msg, &files); err != nil {
			continue
		}
		valid := files[:0]
		for _, f := range files {
			if f.Filename != "" {
				valid = append(valid, f)
			}
		}
		if len(valid) > 0 {
			out[kind] = valid
		}
	}
	*n = out
	return nil
}

// HistoryStatus is the execution status recorded for a finished job.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is the history record of one job.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// HasOutputs reports whether any node listed at least one file.
func (h HistoryEntry) HasOutputs() bool {
	for _, node := range h.Outputs {
		if len(node) > 0 {
			return true
		}
	}
	return false
}

// Failed reports whether the service recorded an execution error.
func (h HistoryEntry) Failed() bool {
	return h.Status.StatusStr == "error"
}

// Event is one message from the event stream.
type Event struct {
	Type     string
	PromptID string
	// Finished is set when the message reports the end of execution.
	Finished bool
	// Failed is set for execution error or interruption messages.
	Failed bool
}

// promptRequest represents the request body for the /prompt endpoint.
type promptRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

// promptResponse represents the response from the /prompt endpoint.
type promptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// wsMessage represents a text frame on the event stream.
type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
	} `json:"data"`
}

// toEvent converts a raw frame into an Event.
func (m wsMessage) toEvent() Event {
	ev := Event{Type: m.Type, PromptID: m.Data.PromptID}
	switch m.Type {
	case "executing":
		ev.Finished = m.Data.Node == nil && m.Data.PromptID != ""
	case "execution_success":
		ev.Finished = true
	case "execution_error", "execution_interrupted":
		ev.Failed = true
	}
	return ev
}
