package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

// HighFidelityMinMajor is the lowest host major version known to support the
// high-fidelity backend.
const HighFidelityMinMajor = 14

var versionPrefixRe = regexp.MustCompile(`^\d+(\.\d+)*`)

// Version is a dotted numeric host version. The zero Version means unknown.
type Version struct {
	parts []int
}

// ParseVersion reads the leading dotted-number run of s and discards the
// rest, so "14.0.23107.0abc" parses as 14.0.23107.0. Strings without a
// leading digit, and components too large for an int, yield the unknown
// version (0.0).
func ParseVersion(s string) Version {
	m := versionPrefixRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return Version{parts: []int{0, 0}}
	}
	fields := strings.Split(m, ".")
	parts := make([]int, 0, max(len(fields), 2))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Version{parts: []int{0, 0}}
		}
		parts = append(parts, n)
	}
	if len(parts) == 1 {
		parts = append(parts, 0)
	}
	return Version{parts: parts}
}

// Major returns the first component.
func (v Version) Major() int {
	if len(v.parts) == 0 {
		return 0
	}
	return v.parts[0]
}

// Minor returns the second component.
func (v Version) Minor() int {
	if len(v.parts) < 2 {
		return 0
	}
	return v.parts[1]
}

// Parts returns a copy of every component. The unknown version has two.
func (v Version) Parts() []int {
	if len(v.parts) == 0 {
		return []int{0, 0}
	}
	return append([]int(nil), v.parts...)
}

// Unknown reports whether the version could not be determined.
func (v Version) Unknown() bool {
	return v.Major() == 0
}

// String joins the components with dots.
func (v Version) String() string {
	parts := v.Parts()
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ".")
}

// PrefersHighFidelity reports whether the high-fidelity backend should be
// attempted for v. An unknown version counts as capable; a failed attempt
// falls back to the baseline backend.
func (v Version) PrefersHighFidelity() bool {
	return v.Major() >= HighFidelityMinMajor || v.Unknown()
}
