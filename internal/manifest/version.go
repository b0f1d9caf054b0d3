package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Latest is the symbolic version resolving to the current latest
// pointer of a manifest id.
const Latest = "latest"

// ValidVersion reports whether v is a well-formed numeric
// major.minor.patch version ("1.0.0"). Pre-release and build suffixes
// are rejected: deployed manifest versions are strictly numeric.
func ValidVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return false
		}
		// Reject leading zeros and signs ("01", "+1").
		if strconv.Itoa(n) != p {
			return false
		}
	}
	return true
}

// CompareVersions compares two numeric versions semantically.
// Returns -1, 0, or +1 as a is less than, equal to, or greater than b.
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// SchemaMajorOf extracts the major version from a schema version
// string ("2.0.0" -> 2).
func SchemaMajorOf(v string) (int, error) {
	head, _, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", v, err)
	}
	return major, nil
}
