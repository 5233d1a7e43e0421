package biomarker

import (
	"encoding/json"
	"math"
)

// RawBiomarkerEntry is one biomarker reading as produced by the extraction
// model. Nothing about it is trusted: any field may be absent.
//
// Decoding is lenient. A field holding the wrong JSON type decodes as absent,
// and a batch element that is not a JSON object decodes with every field
// absent, so one malformed reading never fails the whole batch.
type RawBiomarkerEntry struct {
	Name         *string  `json:"name"`
	Value        *float64 `json:"value"`
	Unit         *string  `json:"unit"`
	ReferenceMin *float64 `json:"referenceMin"`
	ReferenceMax *float64 `json:"referenceMax"`
}

// UnmarshalJSON implements json.Unmarshaler with per-field type tolerance.
func (e *RawBiomarkerEntry) UnmarshalJSON(data []byte) error {
	*e = RawBiomarkerEntry{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}

	e.Name = stringField(fields["name"])
	e.Value = numberField(fields["value"])
	e.Unit = stringField(fields["unit"])
	e.ReferenceMin = numberField(fields["referenceMin"])
	e.ReferenceMax = numberField(fields["referenceMax"])
	return nil
}

func decodeField(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func stringField(raw json.RawMessage) *string {
	if s, ok := decodeField(raw).(string); ok {
		return &s
	}
	return nil
}

func numberField(raw json.RawMessage) *float64 {
	if f, ok := decodeField(raw).(float64); ok {
		return &f
	}
	return nil
}

// Float returns a pointer to v, for building entries and bounds in code.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// ValidatedEntry is a raw entry that passed validation, with its match.
type ValidatedEntry struct {
	Name         string
	Value        float64
	Unit         string
	ReferenceMin *float64
	ReferenceMax *float64
	Match        MatchResult
}

// CanonicalName is the name used for body-system lookup: the matched
// taxonomy name for fuzzy matches, otherwise the extracted name itself.
// Persistence always keys by Name.
func (e ValidatedEntry) CanonicalName() string {
	if e.Match.MatchType == MatchTypeFuzzy {
		return e.Match.MatchedName
	}
	return e.Name
}

// BatchResult is the outcome of validating one extraction batch.
type BatchResult struct {
	Accepted []ValidatedEntry
	Rejected int
}

// Empty reports whether no entry was accepted.
func (r BatchResult) Empty() bool {
	return len(r.Accepted) == 0
}

// ValidateBatch keeps the entries that have a non-empty name, a finite
// value, a non-empty unit and at least one finite reference bound, matching
// each against the taxonomy. Rejected entries are only counted.
func ValidateBatch(entries []RawBiomarkerEntry, matcher *Matcher) BatchResult {
	result := BatchResult{Accepted: make([]ValidatedEntry, 0, len(entries))}

	for _, raw := range entries {
		entry, ok := validateEntry(raw)
		if !ok {
			result.Rejected++
			continue
		}
		entry.Match = matcher.FindBestMatch(entry.Name)
		result.Accepted = append(result.Accepted, entry)
	}
	return result
}

func validateEntry(raw RawBiomarkerEntry) (ValidatedEntry, bool) {
	if raw.Name == nil || *raw.Name == "" {
		return ValidatedEntry{}, false
	}
	if raw.Value == nil || math.IsNaN(*raw.Value) || math.IsInf(*raw.Value, 0) {
		return ValidatedEntry{}, false
	}
	if raw.Unit == nil || *raw.Unit == "" {
		return ValidatedEntry{}, false
	}

	lo, hasMin := finite(raw.ReferenceMin)
	hi, hasMax := finite(raw.ReferenceMax)
	if !hasMin && !hasMax {
		return ValidatedEntry{}, false
	}

	entry := ValidatedEntry{
		Name:  *raw.Name,
		Value: *raw.Value,
		Unit:  *raw.Unit,
	}
	if hasMin {
		entry.ReferenceMin = Float(lo)
	}
	if hasMax {
		entry.ReferenceMax = Float(hi)
	}
	return entry, true
}
