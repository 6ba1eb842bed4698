package pypi

import (
	"regexp"
	"strings"
)

// runsOfSeparators matches https://packaging.python.org/en/latest/specifications/name-normalization/
var runsOfSeparators = regexp.MustCompile(`[-_.]+`)

// Normalize returns the canonical cache key for a project name: lowercase,
// with runs of '-', '_', '.' collapsed to a single '-'.
func Normalize(name string) string {
	return strings.ToLower(runsOfSeparators.ReplaceAllLiteralString(name, "-"))
}
