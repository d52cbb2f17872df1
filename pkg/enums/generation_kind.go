package enums

import "fmt"

// GenerationKind identifies which media pipeline a generation runs through.
type GenerationKind string

const (
	GenerationKindChat    GenerationKind = "chat"
	GenerationKindImage   GenerationKind = "image"
	GenerationKindModel3D GenerationKind = "model_3d"
	GenerationKindVideo   GenerationKind = "video"
)

var validGenerationKinds = []GenerationKind{
	GenerationKindChat,
	GenerationKindImage,
	GenerationKindModel3D,
	GenerationKindVideo,
}

// GenerationKinds returns all known kinds in declaration order.
func GenerationKinds() []GenerationKind {
	kinds := make([]GenerationKind, len(validGenerationKinds))
	copy(kinds, validGenerationKinds)
	return kinds
}

// String returns the literal string for the kind.
func (k GenerationKind) String() string {
	return string(k)
}

// IsValid reports whether the kind is known.
func (k GenerationKind) IsValid() bool {
	for _, candidate := range validGenerationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseGenerationKind converts raw input into a GenerationKind.
func ParseGenerationKind(value string) (GenerationKind, error) {
	for _, candidate := range validGenerationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation kind %q", value)
}
