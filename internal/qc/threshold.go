package qc

import (
	"context"
	"fmt"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

// Threshold is a resolved persistence-check variance floor plus a human
// description of where it came from.
type Threshold struct {
	MinimumVariance float64
	Description     string
}

// Resolver finds the persistence threshold for a station/variable pair
// via a prioritized fallback chain: exact station row, station row with
// wildcard interval, the same two lookups against the station's
// reference station, then the variable's global default. A miss at
// every level is not an error; the caller classifies NOT_CHECKED.
type Resolver struct {
	store *store.Store
}

func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

func (r *Resolver) Resolve(ctx context.Context, station *models.Station, variable *models.Variable, interval, window int64) (Threshold, bool, error) {
	if window == 0 || interval == 0 {
		return Threshold{}, false, nil
	}

	type lookup struct {
		stationID   int64
		interval    *int64
		description string
	}
	lookups := []lookup{
		{station.ID, &interval, "custom station threshold"},
		{station.ID, nil, "custom station threshold"},
	}
	if station.ReferenceStationID.Valid {
		ref := station.ReferenceStationID.Int64
		lookups = append(lookups,
			lookup{ref, &interval, "reference station threshold"},
			lookup{ref, nil, "reference station threshold"},
		)
	}

	for _, l := range lookups {
		t, err := r.store.GetPersistThreshold(ctx, l.stationID, variable.ID, l.interval, window)
		if err != nil {
			return Threshold{}, false, fmt.Errorf("threshold lookup: %w", err)
		}
		if t != nil {
			return Threshold{MinimumVariance: t.MinimumVariance, Description: l.description}, true, nil
		}
	}

	if station.IsAutomatic {
		if variable.PersistenceHourly.Valid {
			return Threshold{
				MinimumVariance: variable.PersistenceHourly.Float64,
				Description:     "global threshold (automatic)",
			}, true, nil
		}
		return Threshold{}, false, nil
	}
	if variable.Persistence.Valid {
		return Threshold{
			MinimumVariance: variable.Persistence.Float64,
			Description:     "global threshold (manual)",
		}, true, nil
	}
	return Threshold{}, false, nil
}
