// Package returns holds the validated periodic-return table every other
// module consumes. A Matrix is immutable after construction; windowing
// operations hand out copies so concurrent consumers never share mutable rows.
package returns

import (
	"fmt"
	"math"
	"time"
)

// ErrMalformedMatrix indicates the input table violates the matrix invariants
// (asset-set drift, unsorted or duplicate dates, NaN/Inf cells). This is a
// universe-level failure: callers abort rather than continue on partial data.
var ErrMalformedMatrix = fmt.Errorf("malformed returns matrix")

// Matrix is an ordered sequence of periods over a fixed asset universe.
// Rows are periods (ascending dates), columns are assets, values are simple
// periodic returns.
type Matrix struct {
	symbols []string
	dates   []time.Time
	data    [][]float64 // data[period][asset]
}

// NewMatrix validates and builds a Matrix.
//
// Invariants enforced:
//   - at least one asset column
//   - dates strictly ascending, no duplicates
//   - every row has exactly one entry per asset
//   - no NaN or Inf values
func NewMatrix(symbols []string, dates []time.Time, data [][]float64) (*Matrix, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no asset columns", ErrMalformedMatrix)
	}
	if len(dates) != len(data) {
		return nil, fmt.Errorf("%w: %d dates but %d rows", ErrMalformedMatrix, len(dates), len(data))
	}

	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("%w: empty asset symbol", ErrMalformedMatrix)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: duplicate asset symbol %s", ErrMalformedMatrix, s)
		}
		seen[s] = true
	}

	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: dates not strictly ascending at row %d (%s >= %s)",
				ErrMalformedMatrix, i, dates[i-1].Format("2006-01-02"), dates[i].Format("2006-01-02"))
		}
	}

	for i, row := range data {
		if len(row) != len(symbols) {
			return nil, fmt.Errorf("%w: row %d has %d entries, expected %d",
				ErrMalformedMatrix, i, len(row), len(symbols))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite return at row %d, asset %s",
					ErrMalformedMatrix, i, symbols[j])
			}
		}
	}

	m := &Matrix{
		symbols: append([]string(nil), symbols...),
		dates:   append([]time.Time(nil), dates...),
		data:    make([][]float64, len(data)),
	}
	for i, row := range data {
		m.data[i] = append([]float64(nil), row...)
	}
	return m, nil
}

// Symbols returns the ordered asset universe.
func (m *Matrix) Symbols() []string {
	return append([]string(nil), m.symbols...)
}

// Dates returns the ordered period dates.
func (m *Matrix) Dates() []time.Time {
	return append([]time.Time(nil), m.dates...)
}

// Periods returns the number of periods (rows).
func (m *Matrix) Periods() int { return len(m.dates) }

// Assets returns the number of assets (columns).
func (m *Matrix) Assets() int { return len(m.symbols) }

// At returns the return of asset j in period i.
func (m *Matrix) At(i, j int) float64 { return m.data[i][j] }

// Row returns a copy of period i's returns across the universe.
func (m *Matrix) Row(i int) []float64 {
	return append([]float64(nil), m.data[i]...)
}

// Date returns the date of period i.
func (m *Matrix) Date(i int) time.Time { return m.dates[i] }

// Window returns a copy of the contiguous row range [start, end] (inclusive
// indices) over the same universe.
func (m *Matrix) Window(start, end int) (*Matrix, error) {
	if start < 0 || end >= len(m.dates) || start > end {
		return nil, fmt.Errorf("invalid window [%d, %d] for %d periods", start, end, len(m.dates))
	}
	return NewMatrix(m.symbols, m.dates[start:end+1], m.data[start:end+1])
}

// Slice returns the sub-matrix of periods with from <= date <= to.
// The result may be empty-rowed; callers decide whether that is fatal.
func (m *Matrix) Slice(from, to time.Time) (*Matrix, error) {
	start := len(m.dates)
	end := -1
	for i, d := range m.dates {
		if !d.Before(from) && start == len(m.dates) {
			start = i
		}
		if !d.After(to) {
			end = i
		}
	}
	if start > end {
		return &Matrix{symbols: append([]string(nil), m.symbols...)}, nil
	}
	return m.Window(start, end)
}

// IndexBefore returns the index of the last period strictly before t,
// or -1 when no period precedes t.
func (m *Matrix) IndexBefore(t time.Time) int {
	idx := -1
	for i, d := range m.dates {
		if d.Before(t) {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// PortfolioReturns applies a fixed weight vector (aligned to the universe
// order) to every period in the matrix, producing the realized portfolio
// return series.
func (m *Matrix) PortfolioReturns(weights []float64) ([]float64, error) {
	if len(weights) != len(m.symbols) {
		return nil, fmt.Errorf("weight vector length %d does not match universe size %d",
			len(weights), len(m.symbols))
	}
	series := make([]float64, len(m.data))
	for i, row := range m.data {
		var r float64
		for j, w := range weights {
			r += w * row[j]
		}
		series[i] = r
	}
	return series, nil
}
