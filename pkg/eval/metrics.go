package eval

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Exact-match comparators with type-aware normalization. These workers are
// deterministic; the LLM-backed strategies live behind the gateway.

var (
	nonNumericRe = regexp.MustCompile(`[^0-9.\-eE]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ExactMatch compares candidate and reference under a match type tag and
// returns 1.0 or 0.0.
func ExactMatch(candidate, reference, matchType string) float64 {
	var matched bool
	switch matchType {
	case TypeNumber:
		matched = numbersMatch(candidate, reference)
	case TypeEmail:
		matched = normalizeEmail(candidate) == normalizeEmail(reference)
	case TypeDate:
		matched = strings.TrimSpace(candidate) == strings.TrimSpace(reference)
	default:
		matched = strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(reference))
	}
	if matched {
		return 1.0
	}
	return 0.0
}

// numbersMatch strips everything non-numeric and compares with 1% relative
// tolerance, so "$1,000" and "1000.0" agree.
func numbersMatch(a, b string) bool {
	fa, errA := strconv.ParseFloat(nonNumericRe.ReplaceAllString(a, ""), 64)
	fb, errB := strconv.ParseFloat(nonNumericRe.ReplaceAllString(b, ""), 64)
	if errA != nil || errB != nil {
		return false
	}
	if fa == fb {
		return true
	}
	diff := math.Abs(fa - fb)
	return diff <= 0.01*math.Max(math.Abs(fa), math.Abs(fb))
}

// normalizeEmail lowers case and rewrites spelled-out separators so
// "alice at example dot com" matches "alice@example.com".
func normalizeEmail(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " at ", "@")
	s = strings.ReplaceAll(s, " dot ", ".")
	s = strings.ReplaceAll(s, "(at)", "@")
	s = strings.ReplaceAll(s, "[at]", "@")
	return s
}

// CollapseForCompare lowercases and collapses runs of whitespace, the
// normalization used for EXACT comparisons in the single-test path.
func CollapseForCompare(s string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// ExactCollapsedMatch reports whitespace-collapsed case-insensitive equality.
func ExactCollapsedMatch(a, b string) bool {
	return CollapseForCompare(a) == CollapseForCompare(b)
}
