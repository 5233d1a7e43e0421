package biomarker

import (
	"math"
	"strconv"
)

// Status is the clinical status of a reading relative to its reference range.
type Status string

const (
	StatusInRange    Status = "in-range"
	StatusBorderline Status = "borderline"
	StatusOutOfRange Status = "out-of-range"
	StatusUnknown    Status = "unknown"
)

// IsValid reports whether s is one of the four statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusInRange, StatusBorderline, StatusOutOfRange, StatusUnknown:
		return true
	}
	return false
}

const (
	// BorderlineMargin is the relative distance outside a bound still
	// classified as borderline.
	BorderlineMargin = 0.1

	// OpenEndedSentinel marks an upper bound standing in for "no upper bound";
	// the extraction maps ">40" to referenceMax 999.
	OpenEndedSentinel = 900

	// NoRangeDisplay is shown when no display range can be derived.
	NoRangeDisplay = "N/A"
)

// Classification is the status and display range derived for one reading.
type Classification struct {
	Status       Status `json:"status"`
	DisplayRange string `json:"display_range"`
}

// Classify derives the clinical status of value against the optional
// reference bounds, and the human-readable display range. Bounds that are
// nil, NaN or infinite count as absent. Classify never fails: with no usable
// bound the status is StatusUnknown.
func Classify(value float64, referenceMin, referenceMax *float64) Classification {
	lo, hasMin := finite(referenceMin)
	hi, hasMax := finite(referenceMax)

	return Classification{
		Status:       classifyStatus(value, lo, hi, hasMin, hasMax),
		DisplayRange: displayRange(lo, hi, hasMin, hasMax),
	}
}

func classifyStatus(value, lo, hi float64, hasMin, hasMax bool) Status {
	lowerMargin := lo * (1 - BorderlineMargin)
	upperMargin := hi * (1 + BorderlineMargin)

	switch {
	case hasMin && hasMax:
		if value >= lo && value <= hi {
			return StatusInRange
		}
		if (value >= lowerMargin && value < lo) || (value > hi && value <= upperMargin) {
			return StatusBorderline
		}
		return StatusOutOfRange

	case hasMax:
		if value <= hi {
			return StatusInRange
		}
		if value <= upperMargin {
			return StatusBorderline
		}
		return StatusOutOfRange

	case hasMin:
		if value >= lo {
			return StatusInRange
		}
		if value >= lowerMargin {
			return StatusBorderline
		}
		return StatusOutOfRange
	}
	return StatusUnknown
}

// displayRange renders the reference interval. A zero lower bound with a
// finite upper bound reads as "<max"; an upper bound at or above the
// open-ended sentinel reads as ">min". The zero-lower-bound case still
// classifies through the two-bound branch above.
func displayRange(lo, hi float64, hasMin, hasMax bool) string {
	switch {
	case hasMin && lo == 0 && hasMax && hi > 0 && hi < OpenEndedSentinel:
		return "<" + formatBound(hi)
	case hasMax && hi >= OpenEndedSentinel:
		if !hasMin {
			return NoRangeDisplay
		}
		return ">" + formatBound(lo)
	case hasMin && hasMax:
		return formatBound(lo) + "-" + formatBound(hi)
	}
	return NoRangeDisplay
}

func finite(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// formatBound prints the shortest decimal that round-trips, so 12 prints
// as "12" and 4.1 as "4.1".
func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
