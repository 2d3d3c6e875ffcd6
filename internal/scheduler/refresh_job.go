package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/modules/returns"
)

// MatrixSink receives a freshly loaded returns matrix.
type MatrixSink interface {
	SetMatrix(*returns.Matrix)
}

// RefreshJob reloads the returns CSV when its modification time changes, so
// a long-running server picks up new data without a restart.
type RefreshJob struct {
	path    string
	sink    MatrixSink
	log     zerolog.Logger
	lastMod time.Time
}

// NewRefreshJob creates a refresh job watching the given CSV path.
func NewRefreshJob(path string, sink MatrixSink, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		path: path,
		sink: sink,
		log:  log.With().Str("job", "returns_refresh").Logger(),
	}
}

// Name implements Job.
func (j *RefreshJob) Name() string { return "returns_refresh" }

// Run implements Job. A missing file is an error; an unchanged file is a
// no-op.
func (j *RefreshJob) Run() error {
	info, err := os.Stat(j.path)
	if err != nil {
		return fmt.Errorf("failed to stat returns file: %w", err)
	}
	if !info.ModTime().After(j.lastMod) {
		return nil
	}

	m, err := returns.ReadCSVFile(j.path)
	if err != nil {
		return fmt.Errorf("failed to reload returns file: %w", err)
	}

	j.sink.SetMatrix(m)
	j.lastMod = info.ModTime()
	j.log.Info().
		Int("assets", m.Assets()).
		Int("periods", m.Periods()).
		Msg("returns data reloaded")
	return nil
}
