package qc

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

func setupQCStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, store.DefaultMissingValue)
	require.NoError(t, st.Migrate())
	return st
}

func TestResolverFallbackChain(t *testing.T) {
	st := setupQCStore(t)
	ctx := context.Background()
	resolver := NewResolver(st)

	variable := &models.Variable{
		ID:                1,
		Name:              "Sea Level",
		Persistence:       sql.NullFloat64{Float64: 0.05, Valid: true},
		PersistenceHourly: sql.NullFloat64{Float64: 0.02, Valid: true},
	}

	// Station 1 carries an exact row and a wildcard-interval row.
	require.NoError(t, st.UpsertPersistThreshold(ctx, models.PersistThreshold{
		StationID: 1, VariableID: 1,
		Interval: sql.NullInt64{Int64: 300, Valid: true}, Window: 3600, MinimumVariance: 0.5,
	}))
	require.NoError(t, st.UpsertPersistThreshold(ctx, models.PersistThreshold{
		StationID: 1, VariableID: 1, Window: 3600, MinimumVariance: 0.9,
	}))
	// Station 10 is station 2's reference.
	require.NoError(t, st.UpsertPersistThreshold(ctx, models.PersistThreshold{
		StationID: 10, VariableID: 1, Window: 3600, MinimumVariance: 0.7,
	}))

	station1 := &models.Station{ID: 1, IsAutomatic: true}
	station2 := &models.Station{ID: 2, ReferenceStationID: sql.NullInt64{Int64: 10, Valid: true}}

	t.Run("exact beats wildcard", func(t *testing.T) {
		th, ok, err := resolver.Resolve(ctx, station1, variable, 300, 3600)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.5, th.MinimumVariance)
		assert.Equal(t, "custom station threshold", th.Description)
	})

	t.Run("wildcard covers other intervals", func(t *testing.T) {
		th, ok, err := resolver.Resolve(ctx, station1, variable, 600, 3600)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.9, th.MinimumVariance)
	})

	t.Run("reference station", func(t *testing.T) {
		th, ok, err := resolver.Resolve(ctx, station2, variable, 300, 3600)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.7, th.MinimumVariance)
		assert.Equal(t, "reference station threshold", th.Description)
	})

	t.Run("global automatic", func(t *testing.T) {
		th, ok, err := resolver.Resolve(ctx, &models.Station{ID: 3, IsAutomatic: true}, variable, 300, 7200)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.02, th.MinimumVariance)
		assert.Equal(t, "global threshold (automatic)", th.Description)
	})

	t.Run("global manual", func(t *testing.T) {
		th, ok, err := resolver.Resolve(ctx, &models.Station{ID: 4}, variable, 300, 7200)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.05, th.MinimumVariance)
		assert.Equal(t, "global threshold (manual)", th.Description)
	})

	t.Run("no default resolves", func(t *testing.T) {
		bare := &models.Variable{ID: 2, Name: "Rainfall"}
		_, ok, err := resolver.Resolve(ctx, &models.Station{ID: 4}, bare, 300, 7200)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero window or interval", func(t *testing.T) {
		_, ok, err := resolver.Resolve(ctx, station1, variable, 0, 3600)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = resolver.Resolve(ctx, station1, variable, 300, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWindowSeconds(t *testing.T) {
	variable := &models.Variable{
		PersistenceWindow:       sql.NullInt64{Int64: 48, Valid: true},
		PersistenceWindowHourly: sql.NullInt64{Int64: 2, Valid: true},
	}

	assert.Equal(t, int64(2*3600), WindowSeconds(&models.Station{IsAutomatic: true}, variable))
	assert.Equal(t, int64(48*3600), WindowSeconds(&models.Station{}, variable))

	bare := &models.Variable{}
	assert.Equal(t, int64(3600), WindowSeconds(&models.Station{IsAutomatic: true}, bare))
	assert.Equal(t, int64(96*3600), WindowSeconds(&models.Station{}, bare))

	assert.Equal(t, int64(3600), WindowSeconds(nil, variable))
	assert.Equal(t, int64(3600), WindowSeconds(&models.Station{}, nil))
}
