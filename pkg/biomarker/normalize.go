package biomarker

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	parenthesizedPattern = regexp.MustCompile(`\([^)]*\)`)
	bracketedPattern     = regexp.MustCompile(`\[[^\]]*\]`)
	disallowedPattern    = regexp.MustCompile(`[^\w\säöüß-]`)
)

// Normalize reduces a biomarker name to a comparable token string.
//
// The name is NFC-composed and lower-cased, whitespace runs are collapsed,
// "(...)" and "[...]" groups are removed, and every character other than
// ASCII word characters, spaces, ä, ö, ü, ß and '-' is dropped.
// Two names are nominally equal iff their normalized forms are equal.
func Normalize(name string) string {
	s := norm.NFC.String(name)
	// cases.Caser keeps state between calls, so one is built per call.
	s = cases.Lower(language.Und).String(s)
	s = collapseWhitespace(s)
	s = parenthesizedPattern.ReplaceAllString(s, "")
	s = bracketedPattern.ReplaceAllString(s, "")
	s = disallowedPattern.ReplaceAllString(s, "")
	// Stripping can leave adjacent spaces behind.
	return collapseWhitespace(s)
}

// collapseWhitespace replaces every run of Unicode whitespace with a single
// space and trims both ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
