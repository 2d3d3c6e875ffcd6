package results

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/portfolio-bench/internal/database"
	"github.com/aristath/portfolio-bench/internal/modules/significance"
)

// Test methods stored in the significance_tests table.
const (
	MethodJobsonKorkie = "jobson_korkie"
	MethodBootstrap    = "bootstrap"
)

// SignificanceRow is one stored pairwise comparison. JK rows and bootstrap
// rows share the table; fields not used by a method stay zero.
type SignificanceRow struct {
	Method        string  `json:"method"`
	StrategyA     string  `json:"strategy_a"`
	StrategyB     string  `json:"strategy_b"`
	Diff          float64 `json:"diff"`
	Correlation   float64 `json:"correlation,omitempty"`
	TStat         float64 `json:"t_stat,omitempty"`
	PValue        float64 `json:"p_value"`
	Level         float64 `json:"level"`
	Significant   bool    `json:"significant"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
	Observations  int     `json:"observations,omitempty"`
	Iterations    int     `json:"iterations,omitempty"`
	Seed          int64   `json:"seed,omitempty"`
}

// SaveSignificance stores the pairwise comparisons of one run.
func (s *Store) SaveSignificance(ctx context.Context, runID string, jk []*significance.Result, boot []*significance.BootstrapResult) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, r := range jk {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO significance_tests
				(run_id, method, strategy_a, strategy_b, diff, correlation, t_stat,
				 p_value, level, significant, indeterminate, observations)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, MethodJobsonKorkie, r.StrategyA, r.StrategyB,
				r.Diff, r.Correlation, r.TStat,
				r.PValue, r.Level, r.Significant, r.Indeterminate, r.Observations,
			); err != nil {
				return fmt.Errorf("failed to insert Jobson-Korkie result %s/%s: %w", r.StrategyA, r.StrategyB, err)
			}
		}
		for _, r := range boot {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO significance_tests
				(run_id, method, strategy_a, strategy_b, diff,
				 p_value, level, significant, iterations, seed)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, MethodBootstrap, r.StrategyA, r.StrategyB, r.ObservedDiff,
				r.PValue, r.Level, r.Significant, r.Iterations, r.Seed,
			); err != nil {
				return fmt.Errorf("failed to insert bootstrap result %s/%s: %w", r.StrategyA, r.StrategyB, err)
			}
		}
		return nil
	})
}

// LoadSignificance returns every stored comparison of one run.
func (s *Store) LoadSignificance(ctx context.Context, runID string) ([]SignificanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, strategy_a, strategy_b, diff, correlation, t_stat,
		       p_value, level, significant, indeterminate, observations, iterations, seed
		FROM significance_tests WHERE run_id = ?
		ORDER BY method, strategy_a, strategy_b`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query significance tests: %w", err)
	}
	defer rows.Close()

	var out []SignificanceRow
	for rows.Next() {
		var row SignificanceRow
		if err := rows.Scan(&row.Method, &row.StrategyA, &row.StrategyB,
			&row.Diff, &row.Correlation, &row.TStat,
			&row.PValue, &row.Level, &row.Significant, &row.Indeterminate,
			&row.Observations, &row.Iterations, &row.Seed); err != nil {
			return nil, fmt.Errorf("failed to scan significance row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating significance tests: %w", err)
	}
	return out, nil
}
