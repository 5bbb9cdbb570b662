package summary

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jcastillo/hydromet/internal/metrics"
	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/store"
)

const dayFormat = "2006-01-02"

// Aggregator recomputes the hourly, daily and rolling last-24h summary
// tables from raw observations. All bucketing happens here in Go rather
// than in SQL so the midnight attribution rules stay in one place.
type Aggregator struct {
	store *store.Store
	clock clockwork.Clock
}

func New(s *store.Store, clock clockwork.Clock) *Aggregator {
	return &Aggregator{store: s, clock: clock}
}

// HourBucket returns the UTC hour a reading belongs to. A non-daily
// reading stamped exactly at midnight closes the preceding hour, so it
// is shifted back one second before truncation. Daily readings carry
// their own date and truncate plainly.
func HourBucket(t time.Time, isDaily bool) time.Time {
	t = t.UTC()
	if !isDaily && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		t = t.Add(-time.Second)
	}
	return t.Truncate(time.Hour)
}

// LocalDay returns the station-local calendar date a reading belongs
// to. Non-daily readings are shifted back one second so a reading at
// exactly local midnight closes the preceding day; the shift only
// changes the date at midnight.
func LocalDay(t time.Time, offsetMinutes int, isDaily bool) string {
	if !isDaily {
		t = t.Add(-time.Second)
	}
	loc := time.FixedZone("station", offsetMinutes*60)
	return t.In(loc).Format(dayFormat)
}

type pairKey struct {
	stationID  int64
	variableID int64
}

type accumulator struct {
	min, max, sum float64
	count         int
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

// AggregateHourly rebuilds the hourly_summary rows for the given UTC
// hour and stations from raw rows in [hour, end]. Readings whose flags
// reject them and missing-value sentinels are excluded.
func (a *Aggregator) AggregateHourly(ctx context.Context, hour, end time.Time, stationIDs []int64) error {
	hour = hour.UTC().Truncate(time.Hour)
	observations, err := a.store.GetObservationsForStations(ctx, hour, end, stationIDs)
	if err != nil {
		return fmt.Errorf("fetch raw rows: %w", err)
	}

	acc := make(map[pairKey]*accumulator)
	var order []pairKey
	for _, o := range observations {
		if !o.AcceptedForSummary() {
			continue
		}
		v, ok := o.Value()
		if !ok || v == a.store.MissingValue() {
			continue
		}
		if !HourBucket(o.Datetime, o.IsDaily).Equal(hour) {
			continue
		}
		k := pairKey{o.StationID, o.VariableID}
		if acc[k] == nil {
			acc[k] = &accumulator{}
			order = append(order, k)
		}
		acc[k].add(v)
	}

	rows := make([]models.HourlySummary, 0, len(order))
	for _, k := range order {
		c := acc[k]
		rows = append(rows, models.HourlySummary{
			Datetime:   hour,
			StationID:  k.stationID,
			VariableID: k.variableID,
			Min:        c.min,
			Max:        c.max,
			Avg:        c.sum / float64(c.count),
			Sum:        c.sum,
			NumRecords: c.count,
		})
	}

	if err := a.store.ReplaceHourlySummaries(ctx, hour, stationIDs, rows); err != nil {
		return fmt.Errorf("replace hourly summaries: %w", err)
	}
	metrics.SummaryRowsWritten.WithLabelValues("hourly").Add(float64(len(rows)))
	return nil
}

// AggregateDaily rebuilds daily_summary rows for station-local days in
// [startDay, endDay) for the given stations. Stations are grouped by
// UTC offset; each group scans the UTC range that covers its local-day
// span, half-open (start, end] so a reading at exactly local midnight
// closes the preceding day.
func (a *Aggregator) AggregateDaily(ctx context.Context, startDay, endDay string, stationIDs []int64) error {
	start, err := time.Parse(dayFormat, startDay)
	if err != nil {
		return fmt.Errorf("parse start day %q: %w", startDay, err)
	}
	end, err := time.Parse(dayFormat, endDay)
	if err != nil {
		return fmt.Errorf("parse end day %q: %w", endDay, err)
	}

	stations, err := a.store.GetStations(ctx, stationIDs)
	if err != nil {
		return fmt.Errorf("fetch stations: %w", err)
	}

	byOffset := make(map[int][]int64)
	var offsets []int
	for _, st := range stations {
		if _, ok := byOffset[st.UTCOffsetMinutes]; !ok {
			offsets = append(offsets, st.UTCOffsetMinutes)
		}
		byOffset[st.UTCOffsetMinutes] = append(byOffset[st.UTCOffsetMinutes], st.ID)
	}
	sort.Ints(offsets)

	for _, offset := range offsets {
		ids := byOffset[offset]
		shift := time.Duration(offset) * time.Minute
		scanStart := start.Add(-shift)
		scanEnd := end.Add(-shift)

		observations, err := a.store.GetObservationsBetween(ctx, scanStart, scanEnd, ids)
		if err != nil {
			return fmt.Errorf("fetch raw rows (offset %d): %w", offset, err)
		}

		type dayKey struct {
			day string
			pairKey
		}
		acc := make(map[dayKey]*accumulator)
		var order []dayKey
		for _, o := range observations {
			if !o.AcceptedForSummary() {
				continue
			}
			v, ok := o.Value()
			if !ok || v == a.store.MissingValue() {
				continue
			}
			day := LocalDay(o.Datetime, offset, o.IsDaily)
			if day < startDay || day >= endDay {
				continue
			}
			k := dayKey{day, pairKey{o.StationID, o.VariableID}}
			if acc[k] == nil {
				acc[k] = &accumulator{}
				order = append(order, k)
			}
			acc[k].add(v)
		}

		rows := make([]models.DailySummary, 0, len(order))
		for _, k := range order {
			c := acc[k]
			rows = append(rows, models.DailySummary{
				Day:        k.day,
				StationID:  k.stationID,
				VariableID: k.variableID,
				Min:        c.min,
				Max:        c.max,
				Avg:        c.sum / float64(c.count),
				Sum:        c.sum,
				NumRecords: c.count,
			})
		}

		if err := a.store.ReplaceDailySummaries(ctx, startDay, endDay, ids, rows); err != nil {
			return fmt.Errorf("replace daily summaries (offset %d): %w", offset, err)
		}
		metrics.SummaryRowsWritten.WithLabelValues("daily").Add(float64(len(rows)))
	}
	return nil
}

// AggregateLast24h rebuilds the whole last24h_summary table from the
// rolling window (now-24h, now]. Only non-daily accepted readings
// participate; the row also records the latest value seen per pair.
func (a *Aggregator) AggregateLast24h(ctx context.Context) error {
	now := a.clock.Now().UTC()

	stations, err := a.store.GetActiveStations(ctx)
	if err != nil {
		return fmt.Errorf("fetch active stations: %w", err)
	}
	ids := make([]int64, len(stations))
	for i, st := range stations {
		ids[i] = st.ID
	}

	observations, err := a.store.GetObservationsBetween(ctx, now.Add(-24*time.Hour), now, ids)
	if err != nil {
		return fmt.Errorf("fetch raw rows: %w", err)
	}

	acc := make(map[pairKey]*accumulator)
	latest := make(map[pairKey]models.Observation)
	var order []pairKey
	for _, o := range observations {
		if o.IsDaily || !o.AcceptedForRolling() {
			continue
		}
		v, ok := o.Value()
		if !ok || v == a.store.MissingValue() {
			continue
		}
		k := pairKey{o.StationID, o.VariableID}
		if acc[k] == nil {
			acc[k] = &accumulator{}
			order = append(order, k)
		}
		acc[k].add(v)
		if prev, ok := latest[k]; !ok || o.Datetime.After(prev.Datetime) {
			latest[k] = o
		}
	}

	rows := make([]models.Last24hSummary, 0, len(order))
	for _, k := range order {
		c := acc[k]
		latestValue, _ := latest[k].Value()
		rows = append(rows, models.Last24hSummary{
			Datetime:    now,
			StationID:   k.stationID,
			VariableID:  k.variableID,
			Min:         c.min,
			Max:         c.max,
			Avg:         c.sum / float64(c.count),
			Sum:         c.sum,
			NumRecords:  c.count,
			LatestValue: latestValue,
		})
	}

	if err := a.store.ReplaceLast24hSummaries(ctx, rows); err != nil {
		return fmt.Errorf("replace last24h summaries: %w", err)
	}
	metrics.SummaryRowsWritten.WithLabelValues("last24h").Add(float64(len(rows)))
	return nil
}

// ComputeMinimumIntervals records, per station-local day and variable,
// the smallest gap between consecutive readings and how complete the
// day's record is against the ideal count implied by that gap. Days
// with fewer than two readings carry no interval and are skipped.
func (a *Aggregator) ComputeMinimumIntervals(ctx context.Context, startDay, endDay string, stationIDs []int64) error {
	start, err := time.Parse(dayFormat, startDay)
	if err != nil {
		return fmt.Errorf("parse start day %q: %w", startDay, err)
	}
	end, err := time.Parse(dayFormat, endDay)
	if err != nil {
		return fmt.Errorf("parse end day %q: %w", endDay, err)
	}

	stations, err := a.store.GetStations(ctx, stationIDs)
	if err != nil {
		return fmt.Errorf("fetch stations: %w", err)
	}

	var rows []models.MinimumInterval
	for _, st := range stations {
		shift := time.Duration(st.UTCOffsetMinutes) * time.Minute
		observations, err := a.store.GetObservationsBetween(ctx, start.Add(-shift), end.Add(-shift), []int64{st.ID})
		if err != nil {
			return fmt.Errorf("fetch raw rows (station %d): %w", st.ID, err)
		}

		type dayKey struct {
			day        string
			variableID int64
		}
		times := make(map[dayKey][]time.Time)
		var order []dayKey
		for _, o := range observations {
			if o.IsDaily {
				continue
			}
			day := LocalDay(o.Datetime, st.UTCOffsetMinutes, o.IsDaily)
			if day < startDay || day >= endDay {
				continue
			}
			k := dayKey{day, o.VariableID}
			if _, ok := times[k]; !ok {
				order = append(order, k)
			}
			times[k] = append(times[k], o.Datetime)
		}

		for _, k := range order {
			ts := times[k]
			if len(ts) < 2 {
				continue
			}
			minGap := 0
			for i := 1; i < len(ts); i++ {
				gap := int(ts[i].Sub(ts[i-1]) / time.Second)
				if gap > 0 && (minGap == 0 || gap < minGap) {
					minGap = gap
				}
			}
			if minGap == 0 {
				continue
			}
			ideal := 86400.0 / float64(minGap)
			rows = append(rows, models.MinimumInterval{
				Day:                    k.day,
				StationID:              st.ID,
				VariableID:             k.variableID,
				MinimumIntervalSeconds: minGap,
				RecordCount:            len(ts),
				IdealRecordCount:       ideal,
				RecordCountPercentage:  float64(len(ts)) / ideal * 100,
			})
		}
	}

	if err := a.store.UpsertMinimumIntervals(ctx, rows); err != nil {
		return fmt.Errorf("upsert minimum intervals: %w", err)
	}
	return nil
}
