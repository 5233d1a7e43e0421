package biomarker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		value        float64
		min, max     *float64
		status       Status
		displayRange string
	}{
		{"inside both bounds", 13.5, Float(12), Float(16), StatusInRange, "12-16"},
		{"on the lower bound", 12, Float(12), Float(16), StatusInRange, "12-16"},
		{"on the upper bound", 16, Float(12), Float(16), StatusInRange, "12-16"},
		{"just below", 11, Float(12), Float(16), StatusBorderline, "12-16"},
		{"just above", 17, Float(12), Float(16), StatusBorderline, "12-16"},
		{"far below", 10, Float(12), Float(16), StatusOutOfRange, "12-16"},
		{"far above", 18, Float(12), Float(16), StatusOutOfRange, "12-16"},
		{"decimal bounds", 4.5, Float(4.1), Float(5.9), StatusInRange, "4.1-5.9"},
		{"zero lower bound", 3, Float(0), Float(4), StatusInRange, "<4"},
		{"zero lower bound above", 4.2, Float(0), Float(4), StatusBorderline, "<4"},
		{"open-ended upper", 45, Float(40), Float(999), StatusInRange, ">40"},
		{"open-ended upper below", 38, Float(40), Float(999), StatusBorderline, ">40"},
		{"open-ended upper far below", 20, Float(40), Float(999), StatusOutOfRange, ">40"},
		{"upper bound only", 3.9, nil, Float(4), StatusInRange, "N/A"},
		{"upper bound only above", 4.3, nil, Float(4), StatusBorderline, "N/A"},
		{"upper bound only far above", 5, nil, Float(4), StatusOutOfRange, "N/A"},
		{"sentinel without lower bound", 5, nil, Float(999), StatusInRange, "N/A"},
		{"lower bound only", 70, Float(60), nil, StatusInRange, "N/A"},
		{"lower bound only below", 55, Float(60), nil, StatusBorderline, "N/A"},
		{"lower bound only far below", 30, Float(60), nil, StatusOutOfRange, "N/A"},
		{"no bounds", 5, nil, nil, StatusUnknown, "N/A"},
		{"NaN bounds count as absent", 5, Float(math.NaN()), Float(math.Inf(1)), StatusUnknown, "N/A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.value, tt.min, tt.max)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.displayRange, got.DisplayRange)
		})
	}
}

// A zero lower bound displays as "<max" but still classifies through the
// two-bound branch, so a value far under the upper bound is in range.
func TestClassifyZeroLowerBoundDisplayAndStatusDiverge(t *testing.T) {
	got := Classify(0.2, Float(0), Float(4))

	assert.Equal(t, "<4", got.DisplayRange)
	assert.Equal(t, StatusInRange, got.Status)
}

func TestClassifyIsTotal(t *testing.T) {
	bounds := []*float64{nil, Float(0), Float(1.5), Float(40), Float(999), Float(-3), Float(math.NaN())}
	values := []float64{-10, 0, 0.5, 1.5, 39, 41, 1000, math.MaxFloat64}

	for _, lo := range bounds {
		for _, hi := range bounds {
			for _, v := range values {
				got := Classify(v, lo, hi)
				assert.True(t, got.Status.IsValid())
				assert.NotEmpty(t, got.DisplayRange)
			}
		}
	}
}

func TestClassifyValueWithinBoundsIsInRange(t *testing.T) {
	pairs := [][2]float64{{0, 4}, {12, 16}, {3.5, 3.5}, {40, 999}, {-2, 2}}

	for _, p := range pairs {
		for _, v := range []float64{p[0], p[1], (p[0] + p[1]) / 2} {
			assert.Equal(t, StatusInRange, Classify(v, Float(p[0]), Float(p[1])).Status, "%v in %v", v, p)
		}
	}
}
