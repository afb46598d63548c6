// Package ai holds the HTTP clients of the upstream AI services: the chat
// completion endpoint that writes persona replies and the task platform
// that renders artwork.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"persona/backend/pkg/metrics"
	"persona/backend/pkg/resilience"
)

// ErrNotConfigured is returned by a client whose upstream URL is unset
var ErrNotConfigured = errors.New("upstream service not configured")

// UpstreamError is a non-2xx answer from an upstream service
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// maxErrorBody caps how much of an error response ends up in logs
const maxErrorBody = 512

// postJSON sends in as JSON through the breaker and decodes a 2xx answer into out
func postJSON(ctx context.Context, name string, cb *resilience.CircuitBreaker, client *http.Client, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	err = cb.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})

	outcome := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = "circuit_open"
	case err != nil:
		outcome = "error"
	}
	metrics.UpstreamRequests.WithLabelValues(name, outcome).Inc()
	return err
}
