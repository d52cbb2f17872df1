// Package vendors defines the adapter surface shared by all generation
// backends. Synchronous vendors report a terminal status straight from
// Submit; asynchronous ones hand back a task ID for polling.
package vendors

import (
	"context"
	"fmt"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// TaskState is the vendor-neutral lifecycle state of a task.
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether the state can no longer change.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// Request carries everything a vendor needs to start a task.
type Request struct {
	Kind   enums.GenerationKind
	Prompt string
	Model  string
	Params map[string]any
}

// TaskStatus is the normalized status of a vendor task. ResultText and
// FailureReason are nil when the vendor reported neither.
type TaskStatus struct {
	State         TaskState
	ResultURLs    []string
	ResultText    *string
	FailureReason *string
}

// SubmitResult is returned by Submit. Synchronous vendors fill Status with
// a terminal state; asynchronous vendors leave it nil and hand back a task
// ID for polling.
type SubmitResult struct {
	TaskID string
	Status *TaskStatus
}

// Adapter is implemented once per vendor API.
type Adapter interface {
	Vendor() enums.Vendor
	Supports(kind enums.GenerationKind) bool
	Submit(ctx context.Context, req Request) (*SubmitResult, error)
	Status(ctx context.Context, taskID string) (*TaskStatus, error)
}

// Registry routes generation kinds to their adapters.
type Registry struct {
	byVendor map[enums.Vendor]Adapter
	byKind   map[enums.GenerationKind]Adapter
}

// NewRegistry builds a registry from the provided adapters. The first
// adapter claiming a kind wins.
func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{
		byVendor: make(map[enums.Vendor]Adapter),
		byKind:   make(map[enums.GenerationKind]Adapter),
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		reg.byVendor[adapter.Vendor()] = adapter
		for _, kind := range enums.GenerationKinds() {
			if _, claimed := reg.byKind[kind]; !claimed && adapter.Supports(kind) {
				reg.byKind[kind] = adapter
			}
		}
	}
	return reg
}

// ForKind returns the adapter handling the generation kind.
func (r *Registry) ForKind(kind enums.GenerationKind) (Adapter, error) {
	if adapter, ok := r.byKind[kind]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("no vendor configured for kind %s", kind)
}

// ForVendor returns the adapter for the named vendor.
func (r *Registry) ForVendor(vendor enums.Vendor) (Adapter, error) {
	if adapter, ok := r.byVendor[vendor]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("no adapter registered for vendor %s", vendor)
}
