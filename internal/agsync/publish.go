package agsync

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/db"
)

const metricsTable = "ag_data.county_metrics"

var metricColumns = []string{"state_name", "county_name", "year", "metric", "value", "reconstructed"}

// PublishResult reports what a publish changed.
type PublishResult struct {
	ID       string
	Rows     int
	Upserted int64
	Pruned   int64
	Years    []int
	Regions  []string
}

// Publisher loads a dataset into the long ag_data.county_metrics table.
type Publisher struct {
	pool db.Pool
	log  *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(pool db.Pool, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{pool: pool, log: log}
}

// LongRows flattens d to one row per non-null cell, in key then column order.
func LongRows(d *dataset.Dataset) [][]any {
	var rows [][]any
	for _, k := range d.Keys() {
		for _, col := range d.Columns() {
			c := d.Get(k, col)
			if !c.Valid {
				continue
			}
			rows = append(rows, []any{k.Region, k.County, k.Year, col, c.Value, c.Reconstructed})
		}
	}
	return rows
}

// Publish upserts every value of d. Rows already published for the same
// years and regions that d no longer carries are pruned, so a republish
// mirrors the file exactly. source is recorded in ag_data.publications.
func (p *Publisher) Publish(ctx context.Context, d *dataset.Dataset, source string) (*PublishResult, error) {
	rows := LongRows(d)
	if len(rows) == 0 {
		return nil, eris.New("agsync: publish: dataset has no values")
	}

	res := &PublishResult{ID: uuid.New().String(), Rows: len(rows), Regions: d.Regions()}
	for _, k := range d.Keys() {
		if !slices.Contains(res.Years, k.Year) {
			res.Years = append(res.Years, k.Year)
		}
	}
	slices.Sort(res.Years)

	ur, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        metricsTable,
		Columns:      metricColumns,
		ConflictKeys: []string{"state_name", "county_name", "year", "metric"},
		UpdateCols:   []string{"value", "reconstructed"},
		PruneWhere:   "t.year = ANY($1) AND t.state_name = ANY($2)",
		PruneArgs:    []any{res.Years, res.Regions},
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "agsync: publish")
	}
	res.Upserted = ur.Upserted
	res.Pruned = ur.Pruned

	_, err = p.pool.Exec(ctx,
		`INSERT INTO ag_data.publications (id, source_path, year, metrics, rows_upserted, rows_pruned, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, source, res.Years[len(res.Years)-1], len(d.Columns()), res.Upserted, res.Pruned, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "agsync: record publication")
	}

	p.log.Info("published dataset",
		zap.String("publication_id", res.ID),
		zap.String("source", source),
		zap.Int("values", res.Rows),
		zap.Int64("upserted", res.Upserted),
		zap.Int64("pruned", res.Pruned),
		zap.Ints("years", res.Years),
		zap.Strings("regions", res.Regions),
	)
	return res, nil
}
