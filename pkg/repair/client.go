package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// Request is one repair call: a chunk of elements sharing a page capture.
type Request struct {
	Screenshot string           `json:"screenshot"`
	XML        string           `json:"xml"`
	Elements   []ElementRequest `json:"elements"`
	Platform   core.Platform    `json:"platform"`
}

// Client asks a repair service for candidate expressions. The returned body
// is raw; Decoder normalizes it.
type Client interface {
	Repair(ctx context.Context, req Request) ([]byte, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) ([]byte, error)

// Repair implements Client.
func (f ClientFunc) Repair(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// HTTPClient posts requests as JSON to a repair endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient creates a client for endpoint. apiKey, when set, is sent
// as a bearer token.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute // model calls with screenshots are slow
	}
	return &HTTPClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Repair implements Client.
func (c *HTTPClient) Repair(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, core.ErrRepairClient.WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrRepairClient.WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ErrRepairClient.WithCause(
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
