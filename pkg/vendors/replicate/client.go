// Package replicate runs image generations as asynchronous predictions.
package replicate

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
	defaultBaseURL              = "https://api.replicate.com"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("replicate api token is required")

// Adapter implements vendors.Adapter for Replicate predictions.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
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

// WithBaseURL overrides the configured Replicate base URL.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

// NewAdapter builds the Replicate adapter given an API token.
func NewAdapter(apiToken string, opts ...Option) (*Adapter, error) {
	trimmed := strings.TrimSpace(apiToken)
	if trimmed == "" {
		return nil, errAPIKeyRequired
	}

	adapter := &Adapter{
		apiToken:   trimmed,
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
	return enums.VendorReplicate
}

// Supports reports which kinds this adapter handles.
func (a *Adapter) Supports(kind enums.GenerationKind) bool {
	return kind == enums.GenerationKindImage
}

// Submit starts a prediction. The model field carries the version hash.
func (a *Adapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "model version is required")
	}

	input := map[string]any{"prompt": req.Prompt}
	for key, value := range req.Params {
		input[key] = value
	}
	body := map[string]any{
		"version": req.Model,
		"input":   input,
	}

	var apiResp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "v1/predictions", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "replicate returned no prediction id")
	}

	return &vendors.SubmitResult{TaskID: apiResp.ID}, nil
}

// Status polls a prediction by ID.
func (a *Adapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task ID is required")
	}

	var apiResp struct {
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  string          `json:"error"`
	}
	path := fmt.Sprintf("v1/predictions/%s", url.PathEscape(trimmed))
	if err := a.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	switch apiResp.Status {
	case "starting", "queued":
		return &vendors.TaskStatus{State: vendors.TaskStateQueued}, nil
	case "processing":
		return &vendors.TaskStatus{State: vendors.TaskStateRunning}, nil
	case "succeeded":
		urls, err := parseOutput(apiResp.Output)
		if err != nil {
			return nil, err
		}
		return &vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultURLs: urls}, nil
	case "failed", "canceled":
		reason := apiResp.Error
		if reason == "" {
			reason = "prediction " + apiResp.Status
		}
		return &vendors.TaskStatus{State: vendors.TaskStateFailed, FailureReason: &reason}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown prediction status %q", apiResp.Status))
	}
}

// parseOutput tolerates both a single URL string and an array of URLs.
func parseOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode prediction output")
	}
	return many, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(a.baseURL, "/"), strings.TrimLeft(path, "/"))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal replicate request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build replicate request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiToken)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute replicate request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("replicate request failed: status %d", resp.StatusCode)).
			WithDetails(strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode replicate response")
	}
	return nil
}
