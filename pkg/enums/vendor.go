package enums

import "fmt"

// Vendor identifies an upstream generation provider.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorReplicate Vendor = "replicate"
	VendorMeshy     Vendor = "meshy"
	VendorNovita    Vendor = "novita"
)

var validVendors = []Vendor{
	VendorOpenAI,
	VendorReplicate,
	VendorMeshy,
	VendorNovita,
}

// String implements fmt.Stringer.
func (v Vendor) String() string {
	return string(v)
}

// IsValid reports whether the vendor is recognized.
func (v Vendor) IsValid() bool {
	for _, candidate := range validVendors {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVendor converts raw input into a Vendor.
func ParseVendor(value string) (Vendor, error) {
	for _, candidate := range validVendors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vendor %q", value)
}
