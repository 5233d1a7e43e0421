package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

var (
	// ErrMalformedPayload means the extraction text is not valid JSON.
	ErrMalformedPayload = errors.New("extraction payload is not valid JSON")
	// ErrNoBiomarkers means the payload carries no biomarkers array.
	ErrNoBiomarkers = errors.New("no biomarkers extracted")
)

var (
	openFence  = regexp.MustCompile("```json\n?")
	closeFence = regexp.MustCompile("\n?```")
)

// Payload is an extraction answer in object form.
type Payload struct {
	LabName    *string                       `json:"lab_name"`
	TestDate   *string                       `json:"test_date"`
	Biomarkers []biomarker.RawBiomarkerEntry `json:"biomarkers"`
}

// StripCodeFence removes ```json and ``` markdown fences and trims the rest.
func StripCodeFence(s string) string {
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParsePayload strips fences and decodes the extraction text. A bare array
// is read as the biomarkers of a payload with no lab name or date. Errors
// wrap ErrMalformedPayload or ErrNoBiomarkers.
func ParsePayload(text string) (*Payload, error) {
	cleaned := StripCodeFence(text)

	var doc json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch firstByte(doc) {
	case '[':
		var entries []biomarker.RawBiomarkerEntry
		if err := json.Unmarshal(doc, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return &Payload{Biomarkers: entries}, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		raw, ok := fields["biomarkers"]
		if !ok || firstByte(raw) != '[' {
			return nil, ErrNoBiomarkers
		}
		payload := &Payload{
			LabName:  optionalString(fields["lab_name"]),
			TestDate: optionalString(fields["test_date"]),
		}
		if err := json.Unmarshal(raw, &payload.Biomarkers); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return payload, nil
	}

	return nil, ErrNoBiomarkers
}

func firstByte(raw json.RawMessage) byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0
	}
	return trimmed[0]
}

func optionalString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	return &s
}
