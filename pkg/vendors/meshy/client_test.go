package meshy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestAdapter(t *testing.T, rt roundTripFunc) *Adapter {
	t.Helper()
	adapter, err := NewAdapter("test-key",
		WithBaseURL("http://meshy.test"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestSubmitReturnsTaskID(t *testing.T) {
	respBody := `{"result":"task-3d-1"}`

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/openapi/v2/text-to-3d" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusAccepted,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	adapter := newTestAdapter(t, rt)
	result, err := adapter.Submit(context.Background(), vendors.Request{
		Prompt: "a wooden chair",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TaskID != "task-3d-1" {
		t.Fatalf("unexpected task id %q", result.TaskID)
	}
	if result.Status != nil {
		t.Fatalf("async submit must not report a status, got %+v", result.Status)
	}
}

func TestStatusSucceededOrdersGLBFirst(t *testing.T) {
	respBody := `{"status":"SUCCEEDED","model_urls":{"fbx":"https://cdn.meshy.test/m.fbx","glb":"https://cdn.meshy.test/m.glb"}}`

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/openapi/v2/text-to-3d/task-3d-1" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	adapter := newTestAdapter(t, rt)
	status, err := adapter.Status(context.Background(), "task-3d-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != vendors.TaskStateSucceeded {
		t.Fatalf("expected succeeded, got %s", status.State)
	}
	if len(status.ResultURLs) != 2 || status.ResultURLs[0] != "https://cdn.meshy.test/m.glb" {
		t.Fatalf("unexpected urls %+v", status.ResultURLs)
	}
}

func TestStatusFailedCarriesReason(t *testing.T) {
	respBody := `{"status":"FAILED","task_error":{"message":"prompt rejected"}}`

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	adapter := newTestAdapter(t, rt)
	status, err := adapter.Status(context.Background(), "task-3d-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != vendors.TaskStateFailed {
		t.Fatalf("expected failed, got %s", status.State)
	}
	if status.FailureReason == nil || *status.FailureReason != "prompt rejected" {
		t.Fatalf("unexpected reason %v", status.FailureReason)
	}
}
