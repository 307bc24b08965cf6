package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/maauso/charswap/internal/retry"
)

// Static errors for compute service operations.
var (
	// ErrBaseURLRequired is returned when the service address is not provided.
	ErrBaseURLRequired = errors.New("comfy: base URL is required")
	// ErrPromptIDRequired is returned when a job ID is not provided.
	ErrPromptIDRequired = errors.New("comfy: prompt ID is required")
	// ErrNoPromptIDReturned is returned when a submission response carries no job ID.
	ErrNoPromptIDReturned = errors.New("comfy: submit failed: no prompt ID returned")
	// ErrPromptRejected is returned when the service rejects a workflow.
	ErrPromptRejected = errors.New("comfy: prompt rejected")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("comfy: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("comfy: rate limited")
	// ErrRequestFailed is returned when the request fails with another non-2xx status code.
	ErrRequestFailed = errors.New("comfy: request failed")
	// ErrNotReady is returned when an artifact is not yet downloadable.
	ErrNotReady = errors.New("comfy: artifact not ready")
)

// API is the set of compute service operations the generation client needs.
// Every method performs a single attempt; retrying is up to the caller.
type API interface {
	// UploadFile uploads a local file as a job input.
	UploadFile(ctx context.Context, path string) (UploadedFile, error)
	// QueuePrompt submits a workflow and returns the job ID.
	QueuePrompt(ctx context.Context, workflow map[string]any, clientID string) (string, error)
	// History returns the job's history record. found is false while the
	// service has no record for the job.
	History(ctx context.Context, promptID string) (entry HistoryEntry, found bool, err error)
	// Download writes an artifact to destPath.
	Download(ctx context.Context, file OutputFile, destPath string) error
	// Events opens the event stream for clientID. The channel is closed
	// when the stream ends or ctx is cancelled.
	Events(ctx context.Context, clientID string) (<-chan Event, error)
}

// HTTPClient is the HTTP implementation of API.
type HTTPClient struct {
	baseURL    string
	wsURL      string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	limiter    *rate.Limiter
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(hc *HTTPClient) {
		hc.dialer = d
	}
}

// WithRateLimit caps outgoing HTTP requests at perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(hc *HTTPClient) {
		hc.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewClient creates a client for the service at baseURL (http or https).
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("comfy: parse base URL: %w", err)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("comfy: unsupported scheme %q", u.Scheme)
	}

	c := &HTTPClient{
		baseURL:    u.String(),
		wsURL:      ws.String(),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UploadFile uploads a local file through the image upload endpoint, which
// the service uses for every input kind.
func (c *HTTPClient) UploadFile(ctx context.Context, path string) (UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("comfy: open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return UploadedFile{}, fmt.Errorf("comfy: build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadedFile{}, fmt.Errorf("comfy: read upload: %w", err)
	}
	_ = mw.WriteField("overwrite", "true")
	_ = mw.WriteField("type", "input")
	if err := mw.Close(); err != nil {
		return UploadedFile{}, fmt.Errorf("comfy: build upload: %w", err)
	}

	var out UploadedFile
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/upload/image", mw.FormDataContentType(), body.Bytes(), &out); err != nil {
		return UploadedFile{}, err
	}
	if out.Name == "" {
		return UploadedFile{}, retry.Transient(fmt.Errorf("%w: upload response has no name", ErrServerError))
	}
	return out, nil
}

// QueuePrompt submits a workflow graph and returns the job ID.
func (c *HTTPClient) QueuePrompt(ctx context.Context, workflow map[string]any, clientID string) (string, error) {
	bodyBytes, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: marshal request: %w", err)
	}

	var resp promptResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/prompt", "application/json", bodyBytes, &resp); err != nil {
		// An invalid workflow is answered with 400 and the validation report.
		var se *statusErr
		if errors.As(err, &se) && se.code == http.StatusBadRequest {
			var rejected promptResponse
			if json.Unmarshal(se.body, &rejected) == nil {
				if rerr := rejected.rejection(); rerr != nil {
					return "", rerr
				}
			}
		}
		return "", err
	}
	if err := resp.rejection(); err != nil {
		return "", err
	}
	if resp.PromptID == "" {
		return "", ErrNoPromptIDReturned
	}
	return resp.PromptID, nil
}

// rejection returns ErrPromptRejected when the response carries node
// errors, or a top-level error without a prompt id.
func (r promptResponse) rejection() error {
	if hasContent(r.NodeErrors) {
		return fmt.Errorf("%w: %s", ErrPromptRejected, string(r.NodeErrors))
	}
	if r.PromptID == "" && hasContent(r.Error) {
		return fmt.Errorf("%w: %s", ErrPromptRejected, string(r.Error))
	}
	return nil
}

// History fetches the history record of a job.
func (c *HTTPClient) History(ctx context.Context, promptID string) (HistoryEntry, bool, error) {
	if promptID == "" {
		return HistoryEntry{}, false, ErrPromptIDRequired
	}

	var resp map[string]HistoryEntry
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), "", nil, &resp); err != nil {
		return HistoryEntry{}, false, err
	}
	entry, ok := resp[promptID]
	return entry, ok, nil
}

// Download streams an artifact into destPath. A 404 means the service has
// not finished writing it and yields ErrNotReady.
func (c *HTTPClient) Download(ctx context.Context, file OutputFile, destPath string) error {
	q := url.Values{}
	q.Set("filename", file.Filename)
	q.Set("subfolder", file.Subfolder)
	typ := file.Type
	if typ == "" {
		typ = "output"
	}
	q.Set("type", typ)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("comfy: create request: %w", err)
	}
	c.authorize(req)

	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("comfy: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return retry.Transient(fmt.Errorf("%w: %s", ErrNotReady, file.Filename))
	}
	if err := statusError(resp); err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("comfy: create destination: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return retry.Transient(fmt.Errorf("comfy: read artifact: %w", err))
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("comfy: close destination: %w", err)
	}
	return nil
}

// Events dials the websocket endpoint and forwards decoded messages until the
// connection drops or ctx is cancelled.
func (c *HTTPClient) Events(ctx context.Context, clientID string) (<-chan Event, error) {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL+"/ws?clientId="+url.QueryEscape(clientID), header)
	if err != nil {
		return nil, fmt.Errorf("comfy: open event stream: %w", err)
	}

	events := make(chan Event, 16)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	go func() {
		defer close(events)
		defer stop()
		defer func() { _ = conn.Close() }()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Binary frames carry preview images.
			if msgType != websocket.TextMessage {
				continue
			}
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case events <- msg.toEvent():
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// doJSON performs a single request and decodes a JSON response into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint, contentType string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("comfy: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("comfy: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("comfy: read response: %w", err))
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("comfy: unmarshal response: %w", err)
		}
	}
	return nil
}

// wait blocks until the rate limiter admits one request.
func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("comfy: rate limit: %w", err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// statusError maps a non-2xx response to an error. 5xx and 429 are transient.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode >= 500:
		return retry.Transient(fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(msg)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Transient(fmt.Errorf("%w: %s", ErrRateLimited, string(msg)))
	default:
		return &statusErr{code: resp.StatusCode, body: msg}
	}
}

// statusErr is a non-retryable non-2xx response. body holds the start of
// the response body.
type statusErr struct {
	code int
	body []byte
}

func (e *statusErr) Error() string {
	return fmt.Sprintf("%v with status %d: %s", ErrRequestFailed, e.code, string(e.body))
}

func (e *statusErr) Unwrap() error { return ErrRequestFailed }

// hasContent reports whether a raw JSON field holds something other than
// null, an empty object, or an empty string.
func hasContent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "{}", `""`, "[]":
		return false
	}
	return true
}

var _ API = (*HTTPClient)(nil)
