package biomarker

import (
	"fmt"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MatchType describes how an extracted name was resolved against the taxonomy.
type MatchType string

const (
	MatchTypeExact MatchType = "exact"
	MatchTypeFuzzy MatchType = "fuzzy"
	MatchTypeNone  MatchType = "none"
)

const (
	// SimilarityThreshold is the minimum edit-distance similarity of a fuzzy match.
	SimilarityThreshold = 0.75
	// NormalizedMatchConfidence is reported when normalized forms are equal.
	NormalizedMatchConfidence = 0.95
)

// MatchResult is the outcome of matching one extracted name.
// MatchedName is empty when MatchType is MatchTypeNone.
type MatchResult struct {
	MatchedName string    `json:"matched_name,omitempty"`
	MatchType   MatchType `json:"match_type"`
	Confidence  float64   `json:"confidence"`
}

// Matched reports whether a taxonomy name was found.
func (r MatchResult) Matched() bool {
	return r.MatchType != MatchTypeNone
}

// Matcher resolves free-text names to canonical taxonomy names.
// A Matcher is safe for concurrent use.
type Matcher struct {
	taxonomy   *Taxonomy
	normalized []string
	memo       *lru.Cache[string, MatchResult]
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher) error

// WithMemo enables an LRU memo of up to size match results.
func WithMemo(size int) MatcherOption {
	return func(m *Matcher) error {
		if size <= 0 {
			return nil
		}
		memo, err := lru.New[string, MatchResult](size)
		if err != nil {
			return fmt.Errorf("creating match memo: %w", err)
		}
		m.memo = memo
		return nil
	}
}

// NewMatcher creates a matcher over taxonomy, normalizing every canonical name once.
func NewMatcher(taxonomy *Taxonomy, opts ...MatcherOption) (*Matcher, error) {
	if taxonomy == nil {
		return nil, fmt.Errorf("taxonomy is required")
	}

	m := &Matcher{
		taxonomy:   taxonomy,
		normalized: make([]string, taxonomy.Len()),
	}
	for i, e := range taxonomy.entries {
		m.normalized[i] = Normalize(e.Name)
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Taxonomy returns the taxonomy the matcher resolves against.
func (m *Matcher) Taxonomy() *Taxonomy {
	return m.taxonomy
}

// FindBestMatch resolves extractedName against the taxonomy. In order:
// a verbatim key is an exact match; the first key with an equal normalized
// form is a fuzzy match at 0.95; otherwise the key with the smallest edit
// distance whose similarity reaches SimilarityThreshold is a fuzzy match,
// ties going to the earlier key. Anything else is no match.
func (m *Matcher) FindBestMatch(extractedName string) MatchResult {
	if m.memo != nil {
		if cached, ok := m.memo.Get(extractedName); ok {
			return cached
		}
	}

	result := m.findBestMatch(extractedName)
	if m.memo != nil {
		m.memo.Add(extractedName, result)
	}
	return result
}

func (m *Matcher) findBestMatch(extractedName string) MatchResult {
	if m.taxonomy.Contains(extractedName) {
		return MatchResult{MatchedName: extractedName, MatchType: MatchTypeExact, Confidence: 1.0}
	}

	target := Normalize(extractedName)
	for i, known := range m.normalized {
		if known == target {
			return MatchResult{
				MatchedName: m.taxonomy.entries[i].Name,
				MatchType:   MatchTypeFuzzy,
				Confidence:  NormalizedMatchConfidence,
			}
		}
	}

	targetLen := runeLen(target)
	best, bestDistance := -1, 0
	for i, known := range m.normalized {
		maxLen := max(targetLen, runeLen(known))
		if maxLen == 0 {
			continue
		}
		distance := Distance(target, known)
		similarity := 1 - float64(distance)/float64(maxLen)
		if similarity >= SimilarityThreshold && (best < 0 || distance < bestDistance) {
			best, bestDistance = i, distance
		}
	}

	if best < 0 {
		return MatchResult{MatchType: MatchTypeNone, Confidence: 0}
	}

	maxLen := max(targetLen, runeLen(m.normalized[best]))
	return MatchResult{
		MatchedName: m.taxonomy.entries[best].Name,
		MatchType:   MatchTypeFuzzy,
		Confidence:  1 - float64(bestDistance)/float64(maxLen),
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
