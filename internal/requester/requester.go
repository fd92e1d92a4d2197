// Package requester executes authenticated requests against the CRM API.
package requester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hublink/hublink/internal/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// UpstreamError carries the status and body of a failed upstream call so
// handlers can mirror the upstream status instead of flattening it.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.Body)
}

// CRMRequester performs bearer-authenticated JSON requests against a CRM
// API base URL.
type CRMRequester struct {
	client  *http.Client
	baseURL string
}

// NewCRMRequester creates a requester for the given API base URL.
func NewCRMRequester(baseURL string) *CRMRequester {
	return &CRMRequester{
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SetTimeout sets the timeout for the HTTP client
func (r *CRMRequester) SetTimeout(timeout time.Duration) {
	r.client.Timeout = timeout
}

// GetJSON issues an authenticated GET for path and decodes the JSON
// response into out. A non-2xx status returns an UpstreamError.
func (r *CRMRequester) GetJSON(ctx context.Context, path, accessToken string, out interface{}) error {
	url := r.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	logger.Debug("crm request", zap.String("url", url))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
