package qc

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

// seedPair creates an automatic station and a variable whose global
// hourly threshold is 0.5 over a 1 hour window.
func seedPair(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertStation(ctx, models.Station{
		ID:          1,
		Name:        "gauge",
		IsAutomatic: true,
		IsActive:    true,
	}))
	require.NoError(t, st.UpsertVariable(ctx, models.Variable{
		ID:                2,
		Name:              "Sea Level",
		PersistenceHourly: sql.NullFloat64{Float64: 0.5, Valid: true},
	}))
}

func insertMeasured(t *testing.T, st *store.Store, ts time.Time, value float64, mutate ...func(*models.Observation)) {
	t.Helper()
	obs := models.Observation{
		StationID:  1,
		VariableID: 2,
		Datetime:   ts,
		Measured:   sql.NullFloat64{Float64: value, Valid: true},
	}
	for _, m := range mutate {
		m(&obs)
	}
	require.NoError(t, st.InsertObservation(context.Background(), obs))
}

func persistFlagAt(t *testing.T, st *store.Store, ts time.Time) models.QualityFlag {
	t.Helper()
	rows, err := st.GetObservationRange(context.Background(), 1, 2, ts, ts)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return models.FlagFromNull(rows[0].QCPersistFlag)
}

func TestRunnerClassification(t *testing.T) {
	st := setupQCStore(t)
	seedPair(t, st)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	// Trailing-hour max-min: 0, 0.2, 0.4, 0.6 against a floor of 0.5.
	for i, v := range []float64{10.0, 10.2, 10.4, 10.6} {
		insertMeasured(t, st, base.Add(time.Duration(i)*10*time.Minute), v)
	}

	runner := NewRunner(st)
	require.NoError(t, runner.Run(ctx, base, base.Add(time.Hour), []int64{1}, GranularityHourly))

	assert.Equal(t, models.Bad, persistFlagAt(t, st, base))
	assert.Equal(t, models.Bad, persistFlagAt(t, st, base.Add(10*time.Minute)))
	assert.Equal(t, models.Bad, persistFlagAt(t, st, base.Add(20*time.Minute)))
	assert.Equal(t, models.Good, persistFlagAt(t, st, base.Add(30*time.Minute)))

	// The combined quality flag mirrors the persist result when no
	// range/step flags are stored.
	rows, err := st.GetObservationRange(ctx, 1, 2, base.Add(30*time.Minute), base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.Good, rows[0].QualityFlag)
	assert.Equal(t, "global threshold (automatic)", rows[0].QCPersistDescription.String)
}

func TestRunnerForwardSuspicion(t *testing.T) {
	st := setupQCStore(t)
	seedPair(t, st)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	// Variance 0 at the first reading, 0.6 at the next two.
	insertMeasured(t, st, base, 10.0)
	insertMeasured(t, st, base.Add(10*time.Minute), 10.6)
	insertMeasured(t, st, base.Add(20*time.Minute), 10.6)
	// An hour later the signal is stuck: trailing window holds only
	// 10.6 readings, variance 0 -> BAD.
	insertMeasured(t, st, base.Add(70*time.Minute), 10.6)

	runner := NewRunner(st)
	require.NoError(t, runner.Run(ctx, base, base.Add(2*time.Hour), []int64{1}, GranularityHourly))

	// A BAD reading is never downgraded.
	assert.Equal(t, models.Bad, persistFlagAt(t, st, base))
	// GOOD readings preceding the BAD one within the window turn
	// SUSPICIOUS.
	assert.Equal(t, models.Suspicious, persistFlagAt(t, st, base.Add(10*time.Minute)))
	assert.Equal(t, models.Suspicious, persistFlagAt(t, st, base.Add(20*time.Minute)))
	assert.Equal(t, models.Bad, persistFlagAt(t, st, base.Add(70*time.Minute)))
}

func TestRunnerCombinesStoredFlags(t *testing.T) {
	st := setupQCStore(t)
	seedPair(t, st)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	insertMeasured(t, st, base, 10.0)
	// Healthy variance but a stored BAD range flag: the combined flag
	// must fail the reading.
	insertMeasured(t, st, base.Add(10*time.Minute), 10.6, func(o *models.Observation) {
		o.QCRangeFlag = sql.NullInt64{Int64: int64(models.Bad), Valid: true}
	})

	runner := NewRunner(st)
	require.NoError(t, runner.Run(ctx, base, base.Add(time.Hour), []int64{1}, GranularityHourly))

	rows, err := st.GetObservationRange(ctx, 1, 2, base.Add(10*time.Minute), base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.Good, models.FlagFromNull(rows[0].QCPersistFlag))
	assert.Equal(t, models.Bad, rows[0].QualityFlag)
}

func TestRunnerRetriggersOutsidePeriod(t *testing.T) {
	st := setupQCStore(t)
	seedPair(t, st)
	ctx := context.Background()

	// A GOOD reading half an hour before the task period, then a stuck
	// reading inside it.
	before := time.Date(2024, 3, 10, 10, 30, 0, 0, time.UTC)
	inside := time.Date(2024, 3, 10, 11, 10, 0, 0, time.UTC)
	insertMeasured(t, st, before, 10.6, func(o *models.Observation) {
		o.QCPersistFlag = sql.NullInt64{Int64: int64(models.Good), Valid: true}
	})
	insertMeasured(t, st, before.Add(-10*time.Minute), 10.6)
	insertMeasured(t, st, inside, 10.6)

	periodStart := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	runner := NewRunner(st)
	require.NoError(t, runner.Run(ctx, periodStart, periodStart.Add(time.Hour), []int64{1}, GranularityHourly))

	// The reading before the period was downgraded, so its hour needs
	// resummarizing.
	assert.Equal(t, models.Suspicious, persistFlagAt(t, st, before))
	pending, err := st.HasPendingHourlyTask(ctx, before.Truncate(time.Hour), 1)
	require.NoError(t, err)
	assert.True(t, pending)

	// A second pass neither re-downgrades nor duplicates the task.
	require.NoError(t, runner.Run(ctx, periodStart, periodStart.Add(time.Hour), []int64{1}, GranularityHourly))
	var n int
	row := st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hourly_summary_tasks WHERE datetime = ? AND station_id = 1
	`, before.Truncate(time.Hour).Unix())
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunnerNoThresholdMarksNotChecked(t *testing.T) {
	st := setupQCStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertStation(ctx, models.Station{ID: 1, IsAutomatic: true, IsActive: true}))
	// Variable without any persistence defaults.
	require.NoError(t, st.UpsertVariable(ctx, models.Variable{ID: 2, Name: "Sea Level"}))

	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	insertMeasured(t, st, base, 10.0)
	insertMeasured(t, st, base.Add(10*time.Minute), 10.0)

	runner := NewRunner(st)
	require.NoError(t, runner.Run(ctx, base, base.Add(time.Hour), []int64{1}, GranularityHourly))

	assert.Equal(t, models.NotChecked, persistFlagAt(t, st, base))
	assert.Equal(t, models.NotChecked, persistFlagAt(t, st, base.Add(10*time.Minute)))

	rows, err := st.GetObservationRange(ctx, 1, 2, base, base)
	require.NoError(t, err)
	assert.Equal(t, "Threshold not found", rows[0].QCPersistDescription.String)
}

func TestRunnerReportsPairFailure(t *testing.T) {
	st := setupQCStore(t)
	seedPair(t, st)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	insertMeasured(t, st, base, 10.0)
	insertMeasured(t, st, base.Add(10*time.Minute), 10.6)

	// Break the threshold lookup: the pair must surface the failure so
	// the enclosing task gets retried rather than finished.
	_, err := st.DB().ExecContext(ctx, `DROP TABLE qc_persist_thresholds`)
	require.NoError(t, err)

	runner := NewRunner(st)
	err = runner.Run(ctx, base, base.Add(time.Hour), []int64{1}, GranularityHourly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station 1 variable 2")
}
