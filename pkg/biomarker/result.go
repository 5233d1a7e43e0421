package biomarker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ClassifiedBiomarker is the persisted form of one validated reading.
type ClassifiedBiomarker struct {
	Value        float64    `json:"value"`
	Unit         string     `json:"unit"`
	ReferenceMin *float64   `json:"referenceMin"`
	ReferenceMax *float64   `json:"referenceMax"`
	DisplayRange string     `json:"reference_range"`
	Status       Status     `json:"status"`
	BodySystem   BodySystem `json:"system"`
	Explanation  string     `json:"explanation"`
}

// ResultSet maps original biomarker names to classified readings and keeps
// insertion order, including through JSON encoding and decoding.
// The zero value is an empty set ready to use, and read methods treat a
// nil set as empty.
type ResultSet struct {
	keys  []string
	items map[string]ClassifiedBiomarker
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{items: make(map[string]ClassifiedBiomarker)}
}

// Set stores b under name. An existing name keeps its position.
func (rs *ResultSet) Set(name string, b ClassifiedBiomarker) {
	if rs.items == nil {
		rs.items = make(map[string]ClassifiedBiomarker)
	}
	if _, exists := rs.items[name]; !exists {
		rs.keys = append(rs.keys, name)
	}
	rs.items[name] = b
}

// Get returns the reading stored under name.
func (rs *ResultSet) Get(name string) (ClassifiedBiomarker, bool) {
	if rs == nil {
		return ClassifiedBiomarker{}, false
	}
	b, ok := rs.items[name]
	return b, ok
}

// Len returns the number of readings.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.keys)
}

// Names returns the names in insertion order.
func (rs *ResultSet) Names() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.keys))
	copy(out, rs.keys)
	return out
}

// Each calls fn for every reading in insertion order.
func (rs *ResultSet) Each(fn func(name string, b ClassifiedBiomarker)) {
	if rs == nil {
		return
	}
	for _, k := range rs.keys {
		fn(k, rs.items[k])
	}
}

// CountByStatus tallies readings per status.
func (rs *ResultSet) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	if rs == nil {
		return counts
	}
	for _, k := range rs.keys {
		counts[rs.items[k].Status]++
	}
	return counts
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range rs.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(rs.items[k])
		if err != nil {
			return nil, fmt.Errorf("encoding biomarker %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping document order. A repeated
// key keeps its first position and its last value.
func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	*rs = ResultSet{items: make(map[string]ClassifiedBiomarker)}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("result set must be a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected result set key %v", tok)
		}
		var b ClassifiedBiomarker
		if err := dec.Decode(&b); err != nil {
			return fmt.Errorf("decoding biomarker %q: %w", name, err)
		}
		rs.Set(name, b)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// BuildResultSet classifies validated entries and keys each by its original
// extracted name. Body systems are looked up by canonical name, falling back
// to DefaultBodySystem.
func BuildResultSet(entries []ValidatedEntry, taxonomy *Taxonomy) *ResultSet {
	rs := NewResultSet()
	for _, e := range entries {
		c := Classify(e.Value, e.ReferenceMin, e.ReferenceMax)
		rs.Set(e.Name, ClassifiedBiomarker{
			Value:        e.Value,
			Unit:         e.Unit,
			ReferenceMin: e.ReferenceMin,
			ReferenceMax: e.ReferenceMax,
			DisplayRange: c.DisplayRange,
			Status:       c.Status,
			BodySystem:   taxonomy.BodySystemFor(e.CanonicalName()),
		})
	}
	return rs
}

// Reclassify recomputes status, display range and body system of every
// reading from its stored value and bounds. Units and explanations are kept.
func Reclassify(rs *ResultSet, matcher *Matcher) *ResultSet {
	out := NewResultSet()
	rs.Each(func(name string, b ClassifiedBiomarker) {
		entry := ValidatedEntry{Name: name, Match: matcher.FindBestMatch(name)}
		c := Classify(b.Value, b.ReferenceMin, b.ReferenceMax)
		b.Status = c.Status
		b.DisplayRange = c.DisplayRange
		b.BodySystem = matcher.Taxonomy().BodySystemFor(entry.CanonicalName())
		out.Set(name, b)
	})
	return out
}
