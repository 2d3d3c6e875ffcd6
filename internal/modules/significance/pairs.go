package significance

import (
	"sort"
)

// CompareAll runs both tests for every pair of strategies, in deterministic
// name order. Pairs whose series are misaligned (one strategy skipped a
// period the other recorded) are left out rather than failing the batch.
func (t *Tester) CompareAll(series map[string][]float64, rfPeriodic float64, iterations int, seed int64) ([]*Result, []*BootstrapResult) {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	var jk []*Result
	var boot []*BootstrapResult
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]

			res, err := t.JobsonKorkie(a, b, series[a], series[b], rfPeriodic)
			if err != nil {
				t.log.Warn().Err(err).Str("a", a).Str("b", b).Msg("skipping pairwise comparison")
				continue
			}
			jk = append(jk, res)

			bres, err := t.Bootstrap(a, b, series[a], series[b], rfPeriodic, iterations, seed)
			if err != nil {
				continue
			}
			boot = append(boot, bres)
		}
	}
	return jk, boot
}
