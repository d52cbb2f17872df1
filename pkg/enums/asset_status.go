package enums

import "fmt"

// AssetStatus describes the lifecycle state of a stored generation asset.
type AssetStatus string

const (
	AssetStatusPending         AssetStatus = "pending"
	AssetStatusStored          AssetStatus = "stored"
	AssetStatusFailed          AssetStatus = "failed"
	AssetStatusDeleteRequested AssetStatus = "delete_requested"
	AssetStatusDeleted         AssetStatus = "deleted"
)

var validAssetStatuses = []AssetStatus{
	AssetStatusPending,
	AssetStatusStored,
	AssetStatusFailed,
	AssetStatusDeleteRequested,
	AssetStatusDeleted,
}

// String returns the literal string for the status.
func (s AssetStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s AssetStatus) IsValid() bool {
	for _, candidate := range validAssetStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAssetStatus converts raw input into an AssetStatus.
func ParseAssetStatus(value string) (AssetStatus, error) {
	for _, candidate := range validAssetStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset status %q", value)
}
