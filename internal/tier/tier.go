// Package tier defines the access tier enumeration shared by all
// storage backends.
package tier

import (
	"fmt"
	"strings"
)

// Tier is a cost/performance classification of stored data. The zero
// value is Unknown, which is what enumeration reports for blobs whose
// tier the service did not return.
type Tier int

const (
	Unknown Tier = iota
	Hot
	Cool
	Cold
	Archive
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Cool:
		return "cool"
	case Cold:
		return "cold"
	case Archive:
		return "archive"
	default:
		return "unknown"
	}
}

// Parse converts a case-insensitive tier name into a Tier.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hot":
		return Hot, nil
	case "cool":
		return Cool, nil
	case "cold":
		return Cold, nil
	case "archive":
		return Archive, nil
	}
	return Unknown, fmt.Errorf("unknown access tier %q", s)
}
