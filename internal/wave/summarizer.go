package wave

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

// Summarizer turns a high-frequency task window into derived scalar
// observations stamped at the window's end.
type Summarizer struct {
	store        *store.Store
	samplePeriod float64
}

func NewSummarizer(s *store.Store) *Summarizer {
	return &Summarizer{store: s, samplePeriod: DefaultSamplePeriod}
}

func (s *Summarizer) Run(ctx context.Context, task models.HFSummaryTask) error {
	samples, err := s.store.GetHFDataRange(ctx, task.StationID, task.VariableID, task.StartDatetime, task.EndDatetime)
	if err != nil {
		return fmt.Errorf("fetch hf samples: %w", err)
	}
	if len(samples) == 0 {
		log.Printf("wave: station %d variable %d: no samples in %s..%s",
			task.StationID, task.VariableID, task.StartDatetime, task.EndDatetime)
		return nil
	}

	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Measured
	}

	var observations []models.Observation
	for _, reading := range Decompose(values, s.samplePeriod) {
		variableID, ok, err := s.store.VariableIDByName(ctx, reading.Name)
		if err != nil {
			return fmt.Errorf("resolve variable %q: %w", reading.Name, err)
		}
		if !ok {
			log.Printf("wave: no variable named %q, skipping", reading.Name)
			continue
		}
		observations = append(observations, models.Observation{
			StationID:  task.StationID,
			VariableID: variableID,
			Datetime:   task.EndDatetime,
			Measured:   sql.NullFloat64{Float64: reading.Value, Valid: true},
		})
	}

	if err := s.store.InsertDerivedObservations(ctx, observations); err != nil {
		return fmt.Errorf("insert derived observations: %w", err)
	}
	return nil
}
