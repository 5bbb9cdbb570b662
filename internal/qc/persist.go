package qc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jcastillo/hydromet/internal/metrics"
	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
	"github.com/jcastillo/hydromet/internal/summary"
)

// Granularity selects which kind of summary task a retroactive flag
// change schedules.
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

const (
	defaultWindowSeconds     = 3600
	defaultWindowHoursManual = 96
	defaultWindowHoursHourly = 1
	secondsPerHour           = 3600
)

// WindowSeconds returns the persistence window for a station/variable
// pair in seconds: the variable's hourly window for automatic stations,
// its manual window otherwise, with 1h / 96h defaults. Missing metadata
// falls back to one hour.
func WindowSeconds(station *models.Station, variable *models.Variable) int64 {
	if station == nil || variable == nil {
		return defaultWindowSeconds
	}
	if station.IsAutomatic {
		hours := int64(defaultWindowHoursHourly)
		if variable.PersistenceWindowHourly.Valid {
			hours = variable.PersistenceWindowHourly.Int64
		}
		return hours * secondsPerHour
	}
	hours := int64(defaultWindowHoursManual)
	if variable.PersistenceWindow.Valid {
		hours = variable.PersistenceWindow.Int64
	}
	return hours * secondsPerHour
}

// Runner executes the persistence check: a sliding max-min variance
// over each reading's trailing window, classified against the resolved
// threshold, with suspicion propagated forward onto readings that
// precede a BAD one within the window.
type Runner struct {
	store    *store.Store
	resolver *Resolver
}

func NewRunner(s *store.Store) *Runner {
	return &Runner{store: s, resolver: NewResolver(s)}
}

type pairKey struct {
	stationID  int64
	variableID int64
}

type pairRange struct {
	start, end time.Time
}

// Run performs persistence QC for every (station, variable) pair with
// raw rows in [periodStart, periodEnd]. A failure in one pair does not
// stop the remaining pairs, but it is reported so the caller releases
// the enclosing tasks instead of finishing them; the next scheduler
// pass retries.
func (r *Runner) Run(ctx context.Context, periodStart, periodEnd time.Time, stationIDs []int64, granularity Granularity) error {
	observations, err := r.store.GetObservationsForStations(ctx, periodStart, periodEnd, stationIDs)
	if err != nil {
		return fmt.Errorf("discover pairs: %w", err)
	}

	ranges := make(map[pairKey]pairRange)
	var order []pairKey
	for _, o := range observations {
		k := pairKey{o.StationID, o.VariableID}
		pr, ok := ranges[k]
		if !ok {
			ranges[k] = pairRange{start: o.Datetime, end: o.Datetime}
			order = append(order, k)
			continue
		}
		if o.Datetime.Before(pr.start) {
			pr.start = o.Datetime
		}
		if o.Datetime.After(pr.end) {
			pr.end = o.Datetime
		}
		ranges[k] = pr
	}

	var errs []error
	for _, k := range order {
		if err := r.runPair(ctx, k, ranges[k], granularity); err != nil {
			log.Printf("qc: station %d variable %d: %v", k.stationID, k.variableID, err)
			errs = append(errs, fmt.Errorf("station %d variable %d: %w", k.stationID, k.variableID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runPair(ctx context.Context, k pairKey, pr pairRange, granularity Granularity) error {
	station, err := r.store.GetStation(ctx, k.stationID)
	if err != nil {
		return fmt.Errorf("fetch station: %w", err)
	}
	variable, err := r.store.GetVariable(ctx, k.variableID)
	if err != nil {
		return fmt.Errorf("fetch variable: %w", err)
	}

	window := WindowSeconds(station, variable)
	windowDur := time.Duration(window) * time.Second

	series, err := r.store.GetObservationRange(ctx, k.stationID, k.variableID, pr.start.Add(-windowDur), pr.end)
	if err != nil {
		return fmt.Errorf("fetch series: %w", err)
	}
	if len(series) == 0 {
		return nil
	}

	timestamps := make([]time.Time, len(series))
	for i, o := range series {
		timestamps[i] = o.Datetime
	}
	interval := EstimateInterval(timestamps)

	var threshold Threshold
	thresholdOK := false
	if station != nil && variable != nil {
		threshold, thresholdOK, err = r.resolver.Resolve(ctx, station, variable, int64(interval), window)
		if err != nil {
			return err
		}
	}

	flags := make([]models.QualityFlag, len(series))
	descriptions := make([]string, len(series))
	updated := make([]bool, len(series))

	// Pass 1: trailing [t-window, t] max-min over measured values,
	// tracked with monotonic deques so the scan stays linear. Rows
	// outside the task period keep their stored classification.
	var maxDeque, minDeque []int
	lo := 0
	for i, o := range series {
		if o.Measured.Valid {
			for len(maxDeque) > 0 && series[maxDeque[len(maxDeque)-1]].Measured.Float64 <= o.Measured.Float64 {
				maxDeque = maxDeque[:len(maxDeque)-1]
			}
			maxDeque = append(maxDeque, i)
			for len(minDeque) > 0 && series[minDeque[len(minDeque)-1]].Measured.Float64 >= o.Measured.Float64 {
				minDeque = minDeque[:len(minDeque)-1]
			}
			minDeque = append(minDeque, i)
		}
		cutoff := o.Datetime.Add(-windowDur)
		for lo <= i && series[lo].Datetime.Before(cutoff) {
			if len(maxDeque) > 0 && maxDeque[0] == lo {
				maxDeque = maxDeque[1:]
			}
			if len(minDeque) > 0 && minDeque[0] == lo {
				minDeque = minDeque[1:]
			}
			lo++
		}

		inPeriod := !o.Datetime.Before(pr.start) && !o.Datetime.After(pr.end)
		if !inPeriod {
			flags[i] = models.FlagFromNull(o.QCPersistFlag)
			descriptions[i] = o.QCPersistDescription.String
			continue
		}
		updated[i] = true

		if !thresholdOK {
			flags[i] = models.NotChecked
			descriptions[i] = "Threshold not found"
			continue
		}
		if len(maxDeque) == 0 {
			flags[i] = models.NotChecked
			continue
		}
		persistValue := series[maxDeque[0]].Measured.Float64 - series[minDeque[0]].Measured.Float64
		if persistValue >= threshold.MinimumVariance {
			flags[i] = models.Good
		} else {
			flags[i] = models.Bad
		}
		descriptions[i] = threshold.Description
	}

	// Pass 2: a BAD reading taints the readings that precede it within
	// the window. Scanning in reverse keeps a count of BAD rows in
	// (t, t+window] so each row is visited once. Downgraded rows are
	// written back even when they precede the task period.
	badInWindow := 0
	hi := len(series) - 1
	for i := len(series) - 1; i >= 0; i-- {
		if i+1 <= hi && flags[i+1] == models.Bad {
			badInWindow++
		}
		limit := series[i].Datetime.Add(windowDur)
		for hi > i && series[hi].Datetime.After(limit) {
			if flags[hi] == models.Bad {
				badInWindow--
			}
			hi--
		}
		if badInWindow > 0 && flags[i] != models.Bad && flags[i] != models.Suspicious {
			flags[i] = models.Suspicious
			updated[i] = true
		}
	}

	var updates []store.QCFlagUpdate
	var retrigger []int
	for i, o := range series {
		if !updated[i] {
			continue
		}
		combined := models.CombineFlags(flags[i],
			models.FlagFromNull(o.QCRangeFlag), models.FlagFromNull(o.QCStepFlag))
		updates = append(updates, store.QCFlagUpdate{
			StationID:          o.StationID,
			VariableID:         o.VariableID,
			Datetime:           o.Datetime,
			PersistFlag:        flags[i],
			PersistDescription: descriptions[i],
			QualityFlag:        combined,
		})
		metrics.QCFlagsWritten.WithLabelValues(flags[i].String()).Inc()
		if o.Datetime.Before(pr.start) || o.Datetime.After(pr.end) {
			retrigger = append(retrigger, i)
		}
	}

	if err := r.store.UpsertQCFlags(ctx, updates); err != nil {
		return fmt.Errorf("upsert flags: %w", err)
	}

	for _, i := range retrigger {
		if err := r.scheduleResummarization(ctx, station, series[i], granularity); err != nil {
			return fmt.Errorf("schedule resummarization: %w", err)
		}
	}
	return nil
}

// scheduleResummarization queues a summary task for the hour or local
// day containing a retroactively changed reading, unless an unstarted
// task for that key is already queued.
func (r *Runner) scheduleResummarization(ctx context.Context, station *models.Station, o models.Observation, granularity Granularity) error {
	switch granularity {
	case GranularityDaily:
		offset := 0
		if station != nil {
			offset = station.UTCOffsetMinutes
		}
		day := summary.LocalDay(o.Datetime, offset, o.IsDaily)
		pending, err := r.store.HasPendingDailyTask(ctx, day, o.StationID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}
		return r.store.CreateDailySummaryTask(ctx, day, o.StationID)
	default:
		hour := summary.HourBucket(o.Datetime, o.IsDaily)
		pending, err := r.store.HasPendingHourlyTask(ctx, hour, o.StationID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}
		return r.store.CreateHourlySummaryTask(ctx, hour, o.StationID)
	}
}
