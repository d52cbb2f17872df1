// Package novita runs text-to-video generations as asynchronous Novita tasks.
package novita

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

const (
	defaultBaseURL              = "https://api.novita.ai"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("novita api key is required")

// Adapter implements vendors.Adapter for Novita text-to-video.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional adapter behavior.
type Option func(*Adapter)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured Novita base URL.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

// NewAdapter builds the Novita adapter given an API key.
func NewAdapter(apiKey string, opts ...Option) (*Adapter, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, errAPIKeyRequired
	}

	adapter := &Adapter{
		apiKey:     trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter, nil
}

// Vendor identifies this adapter.
func (a *Adapter) Vendor() enums.Vendor {
	return enums.VendorNovita
}

// Supports reports which kinds this adapter handles.
func (a *Adapter) Supports(kind enums.GenerationKind) bool {
	return kind == enums.GenerationKindVideo
}

// Submit starts a text-to-video task.
func (a *Adapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}

	prompt := map[string]any{"prompt": req.Prompt, "frames": 64}
	if frames, ok := req.Params["frames"]; ok {
		prompt["frames"] = frames
	}
	body := map[string]any{
		"model_name": req.Model,
		"prompts":    []map[string]any{prompt},
	}
	if width, ok := req.Params["width"]; ok {
		body["width"] = width
	}
	if height, ok := req.Params["height"]; ok {
		body["height"] = height
	}

	var apiResp struct {
		TaskID string `json:"task_id"`
	}
	if err := a.do(ctx, http.MethodPost, "v3/async/txt2video", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.TaskID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "novita returned no task id")
	}

	return &vendors.SubmitResult{TaskID: apiResp.TaskID}, nil
}

// Status polls a task by ID.
func (a *Adapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task ID is required")
	}

	var apiResp struct {
		Task struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"task"`
		Videos []struct {
			VideoURL string `json:"video_url"`
		} `json:"videos"`
	}
	path := "v3/async/task-result?task_id=" + url.QueryEscape(trimmed)
	if err := a.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	switch apiResp.Task.Status {
	case "TASK_STATUS_QUEUED":
		return &vendors.TaskStatus{State: vendors.TaskStateQueued}, nil
	case "TASK_STATUS_PROCESSING":
		return &vendors.TaskStatus{State: vendors.TaskStateRunning}, nil
	case "TASK_STATUS_SUCCEED":
		urls := make([]string, 0, len(apiResp.Videos))
		for _, video := range apiResp.Videos {
			if video.VideoURL != "" {
				urls = append(urls, video.VideoURL)
			}
		}
		return &vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultURLs: urls}, nil
	case "TASK_STATUS_FAILED":
		reason := apiResp.Task.Reason
		if reason == "" {
			reason = "task failed"
		}
		return &vendors.TaskStatus{State: vendors.TaskStateFailed, FailureReason: &reason}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown task status %q", apiResp.Task.Status))
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(a.baseURL, "/"), strings.TrimLeft(path, "/"))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal novita request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build novita request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute novita request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("novita request failed: status %d", resp.StatusCode)).
			WithDetails(strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode novita response")
	}
	return nil
}
