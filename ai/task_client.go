package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"persona/backend/pkg/logger"
	"persona/backend/pkg/resilience"

	"github.com/google/uuid"
)

// ImageTask is an artwork request sent to the task platform
type ImageTask struct {
	JobID       uuid.UUID
	PersonaName string
	Prompt      string
}

// TaskClient submits work to the external task platform
type TaskClient interface {
	// SubmitImage enqueues an artwork job and returns the platform's id for it
	SubmitImage(ctx context.Context, task ImageTask) (string, error)
}

// TaskConfig configures HTTPTaskClient
type TaskConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPTaskClient talks to the task platform over HTTP
type HTTPTaskClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

func NewHTTPTaskClient(cfg TaskConfig, log *logger.Logger) *HTTPTaskClient {
	breakerCfg := resilience.DefaultCircuitBreakerConfig("task_platform")
	if cfg.Timeout > 0 {
		breakerCfg.Timeout = cfg.Timeout
	}
	return &HTTPTaskClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		breaker:    resilience.NewCircuitBreaker(breakerCfg, log),
	}
}

type submitRequest struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Prompt    string `json:"prompt"`
}

type submitResponse struct {
	ID string `json:"id"`
}

func (c *HTTPTaskClient) SubmitImage(ctx context.Context, task ImageTask) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	prompt := task.Prompt
	if prompt == "" {
		prompt = "Portrait of " + task.PersonaName
	}
	req := submitRequest{Type: "image", Reference: task.JobID.String(), Prompt: prompt}

	var resp submitResponse
	if err := postJSON(ctx, "task_platform", c.breaker, c.httpClient, c.baseURL+"/tasks", c.apiKey, req, &resp); err != nil {
		return "", fmt.Errorf("submit image task: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("submit image task: missing task id")
	}
	return resp.ID, nil
}
