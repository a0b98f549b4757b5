// Package store records fetch runs and their per-metric statistics.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = eris.New("run not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of a data-producing command.
type Run struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Status     RunStatus  `json:"status"`
	Rows       int        `json:"rows"`
	Metrics    int        `json:"metrics"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MetricSource tells where a metric's table came from.
type MetricSource string

const (
	SourceAPI   MetricSource = "api"
	SourceCache MetricSource = "cache"
)

// MetricStat summarizes one metric within a run.
type MetricStat struct {
	RunID         string       `json:"run_id"`
	Metric        string       `json:"metric"`
	Source        MetricSource `json:"source"`
	Actual        int          `json:"actual"`
	Reconstructed int          `json:"reconstructed"`
	Missing       int          `json:"missing"`
	RegionsFailed int          `json:"regions_failed"`
}

// Rows returns the number of counties with a value.
func (m MetricStat) Rows() int { return m.Actual + m.Reconstructed }

// RunSummary is recorded when a run completes.
type RunSummary struct {
	Rows    int
	Metrics int
	Output  string
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  RunStatus
	Command string
	Limit   int
}

// Store persists the run ledger.
type Store interface {
	CreateRun(ctx context.Context, command string) (*Run, error)
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	RecordMetric(ctx context.Context, stat MetricStat) error
	ListMetricStats(ctx context.Context, runID string) ([]MetricStat, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by driver, migrated and ready.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func listLimit(l int) int {
	if l <= 0 {
		return 20
	}
	return l
}
