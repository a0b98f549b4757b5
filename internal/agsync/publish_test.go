package agsync

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agcensus/internal/dataset"
)

func publishDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	d, err := dataset.Merge(
		&dataset.MetricTable{Metric: "farms", Rows: []dataset.Row{
			{Key: dataset.Key{Region: "OR", County: "MARION", Year: 2022}, Value: 2412},
			{Key: dataset.Key{Region: "OR", County: "LANE", Year: 2022}, Value: 150, Reconstructed: true},
		}},
		&dataset.MetricTable{Metric: "wheat_acres", Rows: []dataset.Row{
			{Key: dataset.Key{Region: "OR", County: "MARION", Year: 2022}, Value: 8000},
		}},
	)
	require.NoError(t, err)
	return d
}

func TestLongRows(t *testing.T) {
	rows := LongRows(publishDataset(t))
	assert.Equal(t, [][]any{
		{"OR", "MARION", 2022, "farms", 2412.0, false},
		{"OR", "MARION", 2022, "wheat_acres", 8000.0, false},
		{"OR", "LANE", 2022, "farms", 150.0, true},
	}, rows)
}

func TestPublish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_ag_data_county_metrics"}, metricColumns).WillReturnResult(3)
	mock.ExpectExec(`DELETE FROM "ag_data"."county_metrics" AS t WHERE t.year = ANY\(\$1\)`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO "ag_data"."county_metrics"`).WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO ag_data.publications`).
		WithArgs(pgxmock.AnyArg(), "public/data/ag_data.csv", 2022, 2, int64(3), int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := NewPublisher(mock, nil).Publish(context.Background(), publishDataset(t), "public/data/ag_data.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, int64(3), res.Upserted)
	assert.Equal(t, int64(1), res.Pruned)
	assert.Equal(t, []int{2022}, res.Years)
	assert.Equal(t, []string{"OR"}, res.Regions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_EmptyDataset(t *testing.T) {
	_, err := NewPublisher(nil, nil).Publish(context.Background(), dataset.New(), "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no values")
}

func TestPublish_UpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err = NewPublisher(mock, nil).Publish(context.Background(), publishDataset(t), "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agsync: publish")
	assert.NoError(t, mock.ExpectationsWereMet())
}
