package allocation

import (
	"github.com/aristath/portfolio-bench/internal/modules/estimation"
)

// EqualWeight allocates 1/n to every asset. It needs no return data and has
// no failure mode beyond an empty universe.
type EqualWeight struct{}

// NewEqualWeight creates the equal-weight allocator.
func NewEqualWeight() *EqualWeight { return &EqualWeight{} }

// Name returns the strategy identifier.
func (a *EqualWeight) Name() string { return StrategyEqualWeight }

// NeedsParameters is false: the universe alone determines the weights.
func (a *EqualWeight) NeedsParameters() bool { return false }

// Allocate returns w_i = 1/n for every asset in the universe.
func (a *EqualWeight) Allocate(params *estimation.Parameters, _ Config) (*Result, error) {
	if params == nil || len(params.Symbols) == 0 {
		return nil, ErrEmptyUniverse
	}
	n := len(params.Symbols)
	return &Result{
		Strategy:  StrategyEqualWeight,
		Symbols:   append([]string(nil), params.Symbols...),
		Weights:   equalWeights(n),
		Fallback:  FallbackNone,
		Converged: true,
	}, nil
}
