// Package version detects the SDK version a page runs and compares it with
// the latest published release.
package version

import (
	"fmt"
	"regexp"
	"strconv"
)

var semverPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)`)

// Semver is a parsed major.minor.patch triple. Pre-release and build suffixes
// are ignored.
type Semver struct {
	Major int
	Minor int
	Patch int
}

func (v Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse reads the leading major.minor.patch of s.
func Parse(s string) (Semver, bool) {
	m := semverPattern.FindStringSubmatch(s)
	if m == nil {
		return Semver{}, false
	}
	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Semver{}, false
		}
		parts[i] = n
	}
	return Semver{Major: parts[0], Minor: parts[1], Patch: parts[2]}, true
}

// Compare orders a and b lexicographically by (major, minor, patch) and
// returns -1, 0 or 1.
func Compare(a, b Semver) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// Drift classifies how far a detected version is behind the latest one.
type Drift int

const (
	// DriftUnknown means either side was missing or unparseable.
	DriftUnknown Drift = iota
	DriftUpToDate
	DriftPatch
	DriftMinor
	DriftMajor
)

func (d Drift) String() string {
	switch d {
	case DriftUpToDate:
		return "up-to-date"
	case DriftPatch:
		return "patch-behind"
	case DriftMinor:
		return "minor-behind"
	case DriftMajor:
		return "major-behind"
	}
	return "unknown"
}

// Assess compares detected against latest. Equal or ahead is up to date.
func Assess(detected, latest string) Drift {
	d, ok := Parse(detected)
	if !ok {
		return DriftUnknown
	}
	l, ok := Parse(latest)
	if !ok {
		return DriftUnknown
	}
	if Compare(d, l) >= 0 {
		return DriftUpToDate
	}
	switch {
	case d.Major != l.Major:
		return DriftMajor
	case d.Minor != l.Minor:
		return DriftMinor
	default:
		return DriftPatch
	}
}
