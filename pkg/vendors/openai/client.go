// Package openai runs chat and image generations against the OpenAI API.
// Both endpoints are synchronous, so Submit returns a terminal status.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

const (
	defaultBaseURL              = "https://api.openai.com"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("openai api key is required")

// Adapter implements vendors.Adapter for OpenAI.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chatModel  string
	imageModel string
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

// WithBaseURL overrides the configured OpenAI base URL.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

// WithModels overrides the default chat and image models.
func WithModels(chatModel, imageModel string) Option {
	return func(a *Adapter) {
		if chatModel != "" {
			a.chatModel = chatModel
		}
		if imageModel != "" {
			a.imageModel = imageModel
		}
	}
}

// NewAdapter builds the OpenAI adapter given an API key.
func NewAdapter(apiKey string, opts ...Option) (*Adapter, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	adapter := &Adapter{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		chatModel:  "gpt-4o-mini",
		imageModel: "gpt-image-1",
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
	return enums.VendorOpenAI
}

// Supports reports which kinds this adapter handles.
func (a *Adapter) Supports(kind enums.GenerationKind) bool {
	return kind == enums.GenerationKindChat || kind == enums.GenerationKindImage
}

// Submit runs the request synchronously. The returned task ID is minted
// locally because OpenAI does not expose one for these endpoints.
func (a *Adapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}

	switch req.Kind {
	case enums.GenerationKindChat:
		return a.submitChat(ctx, req)
	case enums.GenerationKindImage:
		return a.submitImage(ctx, req)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("kind %s not supported by openai", req.Kind))
	}
}

// Status is never reachable in normal operation since Submit settles
// synchronously. A task that lands here was orphaned mid-submit.
func (a *Adapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	reason := "openai tasks complete synchronously; no status to poll"
	return &vendors.TaskStatus{
		State:         vendors.TaskStateFailed,
		FailureReason: &reason,
	}, nil
}

func (a *Adapter) submitChat(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	model := req.Model
	if model == "" {
		model = a.chatModel
	}
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if temp, ok := req.Params["temperature"]; ok {
		body["temperature"] = temp
	}

	var apiResp struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := a.do(ctx, "v1/chat/completions", body, &apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "openai returned no choices")
	}

	taskID := apiResp.ID
	if taskID == "" {
		taskID = "chatcmpl-" + uuid.NewString()
	}
	text := apiResp.Choices[0].Message.Content
	return &vendors.SubmitResult{
		TaskID: taskID,
		Status: &vendors.TaskStatus{
			State:      vendors.TaskStateSucceeded,
			ResultText: &text,
		},
	}, nil
}

func (a *Adapter) submitImage(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	model := req.Model
	if model == "" {
		model = a.imageModel
	}
	body := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"n":      1,
	}
	if size, ok := req.Params["size"].(string); ok && size != "" {
		body["size"] = size
	}

	var apiResp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := a.do(ctx, "v1/images/generations", body, &apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "openai returned no images")
	}

	urls := make([]string, 0, len(apiResp.Data))
	for _, item := range apiResp.Data {
		if item.URL != "" {
			urls = append(urls, item.URL)
		}
	}
	return &vendors.SubmitResult{
		TaskID: "img-" + uuid.NewString(),
		Status: &vendors.TaskStatus{
			State:      vendors.TaskStateSucceeded,
			ResultURLs: urls,
		},
	}, nil
}

func (a *Adapter) do(ctx context.Context, path string, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(a.baseURL, "/"), strings.TrimLeft(path, "/"))
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal openai request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build openai request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute openai request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("openai request failed: status %d", resp.StatusCode)).
			WithDetails(strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode openai response")
	}
	return nil
}
