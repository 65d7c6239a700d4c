package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare compares two version strings.
// Returns:
// - -1 if v1 < v2
// - 0 if v1 == v2
// - 1 if v1 > v2
//
// A leading 'v' is ignored. When both strings parse as semantic versions
// they are compared by semver rules; otherwise they are split into
// segments on '.', '-', '+' and '_' and compared segment by segment,
// numerically when both segments are numbers and lexically otherwise.
func Compare(v1, v2 string) int {
	v1 = trimV(v1)
	v2 = trimV(v2)

	a, errA := semver.NewVersion(v1)
	b, errB := semver.NewVersion(v2)
	if errA == nil && errB == nil {
		return a.Compare(b)
	}
	return compareSegments(v1, v2)
}

// IsNewer reports whether candidate is newer than installed.
func IsNewer(installed, candidate string) bool {
	return Compare(candidate, installed) > 0
}

// IsValid reports whether v parses as a semantic version.
func IsValid(v string) bool {
	_, err := semver.NewVersion(trimV(v))
	return err == nil
}

func trimV(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') && isDigit(v[1]) {
		return v[1:]
	}
	return v
}

func splitSegments(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '+' || r == '_'
	})
}

func compareSegments(v1, v2 string) int {
	a := splitSegments(v1)
	b := splitSegments(v2)

	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(a) {
			sa = a[i]
		}
		if i < len(b) {
			sb = b[i]
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

// compareSegment orders a single pair of segments. A missing segment acts
// as "0" against a number and sorts after a word, so "1.0" == "1.0.0" and
// "1.0-beta" < "1.0". Numbers sort after words, so "dev-main" < "1.0".
func compareSegment(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		if isNumeric(b) {
			return compareNumeric("0", b)
		}
		return 1
	case b == "":
		if isNumeric(a) {
			return compareNumeric(a, "0")
		}
		return -1
	}

	numA, numB := isNumeric(a), isNumeric(b)
	switch {
	case numA && numB:
		return compareNumeric(a, b)
	case numA:
		return 1
	case numB:
		return -1
	default:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}
}

// compareNumeric compares digit strings of any length without overflow.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
