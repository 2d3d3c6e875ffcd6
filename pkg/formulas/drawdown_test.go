package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name      string
		returns   []float64
		expected  float64
		tolerance float64
	}{
		{
			name:     "empty returns",
			returns:  []float64{},
			expected: 0.0,
		},
		{
			name:     "monotonic gains have no drawdown",
			returns:  []float64{0.01, 0.02, 0.03},
			expected: 0.0,
		},
		{
			name:      "single drop",
			returns:   []float64{0.10, -0.20, 0.05},
			expected:  -0.20,
			tolerance: 1e-12,
		},
		{
			name: "peak then trough",
			// value: 1.10, 1.21, 0.968, 1.0648 -> trough 0.968 against peak 1.21
			returns:   []float64{0.10, 0.10, -0.20, 0.10},
			expected:  -0.20,
			tolerance: 1e-9,
		},
		{
			name: "compounding losses",
			// value: 0.9, 0.81 -> drawdown -19% from the initial peak of 1.0
			returns:   []float64{-0.10, -0.10},
			expected:  -0.19,
			tolerance: 1e-12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxDrawdown(tt.returns)
			assert.InDelta(t, tt.expected, got, tt.tolerance+1e-12)
		})
	}
}
