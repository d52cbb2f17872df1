package enums

import "fmt"

// GenerationStatus describes the lifecycle state of a generation task.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusSucceeded  GenerationStatus = "succeeded"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusExpired    GenerationStatus = "expired"
)

var validGenerationStatuses = []GenerationStatus{
	GenerationStatusPending,
	GenerationStatusProcessing,
	GenerationStatusSucceeded,
	GenerationStatusFailed,
	GenerationStatusExpired,
}

// String returns the literal string for the status.
func (s GenerationStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s GenerationStatus) IsValid() bool {
	for _, candidate := range validGenerationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusSucceeded, GenerationStatusFailed, GenerationStatusExpired:
		return true
	}
	return false
}

// ParseGenerationStatus converts raw input into a GenerationStatus.
func ParseGenerationStatus(value string) (GenerationStatus, error) {
	for _, candidate := range validGenerationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation status %q", value)
}
