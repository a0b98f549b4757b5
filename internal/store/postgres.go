package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/agcensus/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens the run ledger on a Postgres database.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open ledger")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	rows        INTEGER NOT NULL DEFAULT 0,
	metrics     INTEGER NOT NULL DEFAULT 0,
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	metric         TEXT NOT NULL,
	source         TEXT NOT NULL,
	actual         INTEGER NOT NULL DEFAULT 0,
	reconstructed  INTEGER NOT NULL DEFAULT 0,
	missing        INTEGER NOT NULL DEFAULT 0,
	regions_failed INTEGER NOT NULL DEFAULT 0,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, metric)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, command string) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.Command, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, rows = $2, metrics = $3, output = $4, finished_at = $5 WHERE id = $6`,
		string(RunStatusComplete), summary.Rows, summary.Metrics, summary.Output, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: complete run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: fail run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Command != "" {
		args = append(args, filter.Command)
		query += ` AND command = $` + strconv.Itoa(len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += ` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordMetric(ctx context.Context, m MetricStat) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_metrics (run_id, metric, source, actual, reconstructed, missing, regions_failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, metric) DO UPDATE SET
		   source = EXCLUDED.source, actual = EXCLUDED.actual, reconstructed = EXCLUDED.reconstructed,
		   missing = EXCLUDED.missing, regions_failed = EXCLUDED.regions_failed`,
		m.RunID, m.Metric, string(m.Source), m.Actual, m.Reconstructed, m.Missing, m.RegionsFailed,
	)
	return eris.Wrapf(err, "postgres: record metric %s", m.Metric)
}

func (s *PostgresStore) ListMetricStats(ctx context.Context, runID string) ([]MetricStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, metric, source, actual, reconstructed, missing, regions_failed
		 FROM run_metrics WHERE run_id = $1 ORDER BY recorded_at, metric`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metric stats")
	}
	defer rows.Close()

	var out []MetricStat
	for rows.Next() {
		var (
			m      MetricStat
			source string
		)
		if err := rows.Scan(&m.RunID, &m.Metric, &source, &m.Actual, &m.Reconstructed, &m.Missing, &m.RegionsFailed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric stat")
		}
		m.Source = MetricSource(source)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metric stats iterate")
}

func scanPostgresRun(row scannable) (*Run, error) {
	var (
		r      Run
		status string
	)
	if err := row.Scan(&r.ID, &r.Command, &status, &r.Rows, &r.Metrics, &r.Output, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}
