package vendors

import (
	"context"
	"testing"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

type fakeAdapter struct {
	vendor enums.Vendor
	kinds  map[enums.GenerationKind]bool
}

func (f *fakeAdapter) Vendor() enums.Vendor { return f.vendor }

func (f *fakeAdapter) Supports(kind enums.GenerationKind) bool { return f.kinds[kind] }

func (f *fakeAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	return &SubmitResult{TaskID: "task-1"}, nil
}

func (f *fakeAdapter) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	return &TaskStatus{State: TaskStateRunning}, nil
}

func TestRegistryRoutesByKind(t *testing.T) {
	chatAdapter := &fakeAdapter{
		vendor: enums.VendorOpenAI,
		kinds: map[enums.GenerationKind]bool{
			enums.GenerationKindChat:  true,
			enums.GenerationKindImage: true,
		},
	}
	videoAdapter := &fakeAdapter{
		vendor: enums.VendorNovita,
		kinds:  map[enums.GenerationKind]bool{enums.GenerationKindVideo: true},
	}

	reg := NewRegistry(chatAdapter, videoAdapter)

	got, err := reg.ForKind(enums.GenerationKindChat)
	if err != nil {
		t.Fatalf("chat adapter lookup: %v", err)
	}
	if got.Vendor() != enums.VendorOpenAI {
		t.Fatalf("unexpected vendor %s", got.Vendor())
	}

	got, err = reg.ForKind(enums.GenerationKindVideo)
	if err != nil {
		t.Fatalf("video adapter lookup: %v", err)
	}
	if got.Vendor() != enums.VendorNovita {
		t.Fatalf("unexpected vendor %s", got.Vendor())
	}

	if _, err := reg.ForKind(enums.GenerationKindModel3D); err == nil {
		t.Fatalf("expected error for unclaimed kind")
	}
}

func TestRegistryFirstAdapterWinsKind(t *testing.T) {
	first := &fakeAdapter{
		vendor: enums.VendorOpenAI,
		kinds:  map[enums.GenerationKind]bool{enums.GenerationKindImage: true},
	}
	second := &fakeAdapter{
		vendor: enums.VendorReplicate,
		kinds:  map[enums.GenerationKind]bool{enums.GenerationKindImage: true},
	}

	reg := NewRegistry(first, second)

	got, err := reg.ForKind(enums.GenerationKindImage)
	if err != nil {
		t.Fatalf("image adapter lookup: %v", err)
	}
	if got.Vendor() != enums.VendorOpenAI {
		t.Fatalf("expected first adapter to claim kind, got %s", got.Vendor())
	}

	// both stay reachable by vendor
	if _, err := reg.ForVendor(enums.VendorReplicate); err != nil {
		t.Fatalf("replicate adapter lookup: %v", err)
	}
}

func TestTaskStateIsTerminal(t *testing.T) {
	if TaskStateQueued.IsTerminal() || TaskStateRunning.IsTerminal() {
		t.Fatalf("pending states must not be terminal")
	}
	if !TaskStateSucceeded.IsTerminal() || !TaskStateFailed.IsTerminal() {
		t.Fatalf("settled states must be terminal")
	}
}
