package service

import (
	"errors"
	"time"

	"github.com/biomarker-normalizer/internal/extraction"
	"github.com/biomarker-normalizer/internal/metrics"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// ErrEmptyValidatedSet means no extracted entry passed validation.
var ErrEmptyValidatedSet = errors.New("no valid biomarkers extracted")

// NormalizedName reports how one accepted name was matched.
type NormalizedName struct {
	Name          string                `json:"name"`
	CanonicalName string                `json:"canonicalName"`
	Match         biomarker.MatchResult `json:"match"`
}

// NormalizeOutcome is the result of normalizing one extraction answer.
type NormalizeOutcome struct {
	LabName  *string              `json:"labName"`
	TestDate *string              `json:"testDate"`
	Results  *biomarker.ResultSet `json:"results"`
	Names    []NormalizedName     `json:"names"`
	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
}

// Normalizer turns extraction text into a classified result set without
// touching storage or persistence.
type Normalizer struct {
	matcher *biomarker.Matcher
	metrics *metrics.Metrics
}

// NewNormalizer creates a normalizer over matcher. m may be nil.
func NewNormalizer(matcher *biomarker.Matcher, m *metrics.Metrics) *Normalizer {
	return &Normalizer{matcher: matcher, metrics: m}
}

// Matcher returns the matcher used for name resolution
func (n *Normalizer) Matcher() *biomarker.Matcher {
	return n.matcher
}

// Normalize parses, validates, matches and classifies an extraction answer.
// Errors wrap extraction.ErrMalformedPayload, extraction.ErrNoBiomarkers or
// ErrEmptyValidatedSet.
func (n *Normalizer) Normalize(text string) (*NormalizeOutcome, error) {
	started := time.Now()
	payload, err := extraction.ParsePayload(text)
	n.metrics.ObserveStage(metrics.StageParse, started, err)
	if err != nil {
		return nil, err
	}

	started = time.Now()
	batch := biomarker.ValidateBatch(payload.Biomarkers, n.matcher)
	n.metrics.Validation(batch)
	if batch.Empty() {
		n.metrics.ObserveStage(metrics.StageValidate, started, ErrEmptyValidatedSet)
		return nil, ErrEmptyValidatedSet
	}
	n.metrics.ObserveStage(metrics.StageValidate, started, nil)

	started = time.Now()
	results := biomarker.BuildResultSet(batch.Accepted, n.matcher.Taxonomy())
	n.metrics.ObserveStage(metrics.StageClassify, started, nil)
	n.metrics.Classified(results)

	names := make([]NormalizedName, 0, len(batch.Accepted))
	for _, e := range batch.Accepted {
		names = append(names, NormalizedName{
			Name:          e.Name,
			CanonicalName: e.CanonicalName(),
			Match:         e.Match,
		})
	}

	return &NormalizeOutcome{
		LabName:  payload.LabName,
		TestDate: payload.TestDate,
		Results:  results,
		Names:    names,
		Accepted: len(batch.Accepted),
		Rejected: batch.Rejected,
	}, nil
}
