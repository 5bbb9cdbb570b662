package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

func setupScheduler(t *testing.T) (*store.Store, *Scheduler) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, store.DefaultMissingValue)
	require.NoError(t, st.Migrate())

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	return st, NewScheduler(st, clock, time.Minute, 10*time.Minute)
}

func TestProcessHourlyTasks(t *testing.T) {
	st, sched := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStation(ctx, models.Station{ID: 1, IsAutomatic: true, IsActive: true}))
	require.NoError(t, st.UpsertVariable(ctx, models.Variable{ID: 2, Name: "Water Level"}))

	hour := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, v := range []float64{4.0, 4.2, 4.1} {
		require.NoError(t, st.InsertObservation(ctx, models.Observation{
			StationID:  1,
			VariableID: 2,
			Datetime:   hour.Add(time.Duration(i) * 15 * time.Minute),
			Measured:   sql.NullFloat64{Float64: v, Valid: true},
		}))
	}
	require.NoError(t, st.CreateHourlySummaryTask(ctx, hour, 1))

	sched.ProcessHourlyTasks(ctx)

	rows, err := st.GetHourlySummaries(ctx, hour, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].NumRecords)
	assert.Equal(t, 4.0, rows[0].Min)
	assert.Equal(t, 4.2, rows[0].Max)

	// The task reached a terminal state.
	hourly, _, _, err := st.PendingTaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, hourly)

	// A second pass finds nothing to do and changes nothing.
	sched.ProcessHourlyTasks(ctx)
	again, err := st.GetHourlySummaries(ctx, hour, 1)
	require.NoError(t, err)
	assert.Equal(t, rows, again)
}

func TestProcessDailyTasks(t *testing.T) {
	st, sched := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStation(ctx, models.Station{ID: 1, IsAutomatic: true, IsActive: true}))
	require.NoError(t, st.UpsertVariable(ctx, models.Variable{ID: 2, Name: "Water Level"}))

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.InsertObservation(ctx, models.Observation{
			StationID:  1,
			VariableID: 2,
			Datetime:   day.Add(time.Duration(i+1) * 6 * time.Hour),
			Measured:   sql.NullFloat64{Float64: float64(i), Valid: true},
		}))
	}
	require.NoError(t, st.CreateDailySummaryTask(ctx, "2024-03-09", 1))

	sched.ProcessDailyTasks(ctx)

	rows, err := st.GetDailySummaries(ctx, "2024-03-09", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].NumRecords)

	_, daily, _, err := st.PendingTaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, daily)
}

func TestProcessHourlyTasks_FailureReleasesTask(t *testing.T) {
	st, sched := setupScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStation(ctx, models.Station{ID: 1, IsAutomatic: true, IsActive: true}))
	require.NoError(t, st.UpsertVariable(ctx, models.Variable{ID: 2, Name: "Water Level"}))

	hour := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.InsertObservation(ctx, models.Observation{
		StationID:  1,
		VariableID: 2,
		Datetime:   hour.Add(15 * time.Minute),
		Measured:   sql.NullFloat64{Float64: 4.0, Valid: true},
	}))
	require.NoError(t, st.CreateHourlySummaryTask(ctx, hour, 1))

	// Break the QC threshold lookup so processing the hour fails.
	_, err := st.DB().ExecContext(ctx, `DROP TABLE qc_persist_thresholds`)
	require.NoError(t, err)

	sched.ProcessHourlyTasks(ctx)

	// The task went back to pending instead of being finished.
	hourly, _, _, err := st.PendingTaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hourly)

	var started, finished sql.NullInt64
	row := st.DB().QueryRowContext(ctx, `
		SELECT started_at, finished_at FROM hourly_summary_tasks WHERE datetime = ? AND station_id = 1
	`, hour.Unix())
	require.NoError(t, row.Scan(&started, &finished))
	assert.False(t, started.Valid)
	assert.False(t, finished.Valid)
}
