package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCVaR(t *testing.T) {
	tests := []struct {
		name       string
		returns    []float64
		confidence float64
		want       float64
	}{
		{
			name:       "worst 5 percent of ten observations",
			returns:    []float64{-0.10, -0.05, -0.02, 0.0, 0.02, 0.05, 0.10, 0.15, 0.20, 0.25},
			confidence: 0.95,
			want:       -0.10,
		},
		{
			name:       "worst 20 percent averages the tail",
			returns:    []float64{-0.10, -0.05, -0.02, 0.0, 0.02, 0.05, 0.10, 0.15, 0.20, 0.25},
			confidence: 0.80,
			want:       -0.075, // mean of {-0.10, -0.05}
		},
		{
			name:       "single return",
			returns:    []float64{-0.10},
			confidence: 0.95,
			want:       -0.10,
		},
		{
			name:       "empty returns",
			returns:    []float64{},
			confidence: 0.95,
			want:       0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CVaR(tt.returns, tt.confidence)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHistoricalVaR(t *testing.T) {
	returns := []float64{-0.10, -0.05, -0.02, 0.0, 0.02, 0.05, 0.10, 0.15, 0.20, 0.25}

	// 95%: ceil(10*0.05)=1 -> worst observation
	assert.InDelta(t, -0.10, HistoricalVaR(returns, 0.95), 1e-12)

	// 80%: ceil(10*0.20)=2 -> second worst observation
	assert.InDelta(t, -0.05, HistoricalVaR(returns, 0.80), 1e-12)

	assert.Equal(t, 0.0, HistoricalVaR(nil, 0.95))
}

func TestCVaRIsNotAboveVaR(t *testing.T) {
	returns := []float64{-0.30, -0.12, -0.04, 0.01, 0.03, 0.06, 0.09, 0.14, 0.18, 0.22}
	cvar := CVaR(returns, 0.80)
	varv := HistoricalVaR(returns, 0.80)
	assert.LessOrEqual(t, cvar, varv)
}
