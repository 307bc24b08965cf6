package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/maauso/charswap/internal/server"
)

// ErrServer is returned for non-2xx responses from the charswap server.
var ErrServer = errors.New("server error")

// apiClient talks to a charswap server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// do sends body as JSON, if non-nil, and decodes the response into out, if non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr server.MissingMasksResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("%w: %s %s: status %d", ErrServer, method, path, resp.StatusCode)
		}
		if len(apiErr.Missing) > 0 {
			refs := make([]string, len(apiErr.Missing))
			for i, m := range apiErr.Missing {
				refs[i] = fmt.Sprintf("%s pass %d", m.ClipID, m.Pass)
			}
			return fmt.Errorf("%w: %s (%s): %s", ErrServer, apiErr.Error, apiErr.Code, strings.Join(refs, ", "))
		}
		return fmt.Errorf("%w: %s (%s)", ErrServer, apiErr.Error, apiErr.Code)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
