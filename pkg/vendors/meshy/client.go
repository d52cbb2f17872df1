// Package meshy runs text-to-3D generations as asynchronous Meshy tasks.
package meshy

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
	defaultBaseURL              = "https://api.meshy.ai"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("meshy api key is required")

// Adapter implements vendors.Adapter for Meshy text-to-3D.
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

// WithBaseURL overrides the configured Meshy base URL.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

// NewAdapter builds the Meshy adapter given an API key.
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
	return enums.VendorMeshy
}

// Supports reports which kinds this adapter handles.
func (a *Adapter) Supports(kind enums.GenerationKind) bool {
	return kind == enums.GenerationKindModel3D
}

// Submit starts a preview text-to-3D task.
func (a *Adapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}

	body := map[string]any{
		"mode":   "preview",
		"prompt": req.Prompt,
	}
	if style, ok := req.Params["art_style"].(string); ok && style != "" {
		body["art_style"] = style
	}

	var apiResp struct {
		Result string `json:"result"`
	}
	if err := a.do(ctx, http.MethodPost, "openapi/v2/text-to-3d", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Result == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "meshy returned no task id")
	}

	return &vendors.SubmitResult{TaskID: apiResp.Result}, nil
}

// Status polls a text-to-3D task by ID.
func (a *Adapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task ID is required")
	}

	var apiResp struct {
		Status    string            `json:"status"`
		ModelURLs map[string]string `json:"model_urls"`
		TaskError struct {
			Message string `json:"message"`
		} `json:"task_error"`
	}
	path := fmt.Sprintf("openapi/v2/text-to-3d/%s", url.PathEscape(trimmed))
	if err := a.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	switch apiResp.Status {
	case "PENDING":
		return &vendors.TaskStatus{State: vendors.TaskStateQueued}, nil
	case "IN_PROGRESS":
		return &vendors.TaskStatus{State: vendors.TaskStateRunning}, nil
	case "SUCCEEDED":
		urls := make([]string, 0, len(apiResp.ModelURLs))
		// glb first so the primary asset is deterministic
		if glb, ok := apiResp.ModelURLs["glb"]; ok && glb != "" {
			urls = append(urls, glb)
		}
		for format, modelURL := range apiResp.ModelURLs {
			if format == "glb" || modelURL == "" {
				continue
			}
			urls = append(urls, modelURL)
		}
		return &vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultURLs: urls}, nil
	case "FAILED", "CANCELED":
		reason := apiResp.TaskError.Message
		if reason == "" {
			reason = "task " + strings.ToLower(apiResp.Status)
		}
		return &vendors.TaskStatus{State: vendors.TaskStateFailed, FailureReason: &reason}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown task status %q", apiResp.Status))
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(a.baseURL, "/"), strings.TrimLeft(path, "/"))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal meshy request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build meshy request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute meshy request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("meshy request failed: status %d", resp.StatusCode)).
			WithDetails(strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode meshy response")
	}
	return nil
}
