package models

import (
	"database/sql"
	"time"
)

// QualityFlag is the QC classification attached to a raw observation.
// The combined flag precedence is Bad > Good > Suspicious > NotChecked.
type QualityFlag int

const (
	NotChecked QualityFlag = 0
	Good       QualityFlag = 1
	Suspicious QualityFlag = 2
	Bad        QualityFlag = 3
)

func (f QualityFlag) String() string {
	switch f {
	case Good:
		return "GOOD"
	case Suspicious:
		return "SUSPICIOUS"
	case Bad:
		return "BAD"
	default:
		return "NOT_CHECKED"
	}
}

// Accepted reports whether a reading with this flag participates in
// summary aggregation.
func (f QualityFlag) Accepted() bool {
	return f == Good || f == NotChecked
}

// CombineFlags collapses the per-check flags into a single quality flag.
// A single Bad fails the reading; absent any Bad, any Good upgrades it;
// absent Good, any Suspicious marks it; otherwise NotChecked.
func CombineFlags(flags ...QualityFlag) QualityFlag {
	hasGood := false
	hasSuspicious := false
	for _, f := range flags {
		switch f {
		case Bad:
			return Bad
		case Good:
			hasGood = true
		case Suspicious:
			hasSuspicious = true
		}
	}
	if hasGood {
		return Good
	}
	if hasSuspicious {
		return Suspicious
	}
	return NotChecked
}

// FlagFromNull converts a nullable flag column into a QualityFlag,
// defaulting to NotChecked.
func FlagFromNull(v sql.NullInt64) QualityFlag {
	if !v.Valid {
		return NotChecked
	}
	return QualityFlag(v.Int64)
}

type Station struct {
	ID                 int64
	Name               string
	UTCOffsetMinutes   int
	IsAutomatic        bool
	IsActive           bool
	ReferenceStationID sql.NullInt64
}

type Variable struct {
	ID     int64
	Name   string
	Symbol string

	// Global persistence-check defaults, used when no per-station
	// threshold row exists. Windows are in hours.
	Persistence             sql.NullFloat64
	PersistenceHourly       sql.NullFloat64
	PersistenceWindow       sql.NullInt64
	PersistenceWindowHourly sql.NullInt64
}

type Observation struct {
	StationID  int64
	VariableID int64
	Datetime   time.Time
	Measured   sql.NullFloat64
	Code       sql.NullString
	Consisted  sql.NullFloat64
	IsDaily    bool

	ManualFlag  sql.NullInt64
	QualityFlag QualityFlag

	QCRangeFlag          sql.NullInt64
	QCStepFlag           sql.NullInt64
	QCPersistFlag        sql.NullInt64
	QCPersistDescription sql.NullString
	MLFlag               sql.NullInt64
}

// Value returns the effective measurement: the human-corrected consisted
// value overrides the raw measured value wherever present.
func (o Observation) Value() (float64, bool) {
	if o.Consisted.Valid {
		return o.Consisted.Float64, true
	}
	if o.Measured.Valid {
		return o.Measured.Float64, true
	}
	return 0, false
}

// AcceptedForSummary reports whether the observation's flags admit it
// into summary aggregation: the manual flag wins when set, otherwise
// the combined quality flag is consulted.
func (o Observation) AcceptedForSummary() bool {
	if o.ManualFlag.Valid {
		return QualityFlag(o.ManualFlag.Int64).Accepted()
	}
	return o.QualityFlag.Accepted()
}

// AcceptedForRolling is the looser rule used by the last-24h table: a
// human-corrected consisted value overrides any rejection, otherwise
// the combined quality flag decides. The manual flag is not consulted.
func (o Observation) AcceptedForRolling() bool {
	return o.Consisted.Valid || o.QualityFlag.Accepted()
}

// HourlySummary is one hourly_summary row. Datetime is the UTC hour
// bucket start.
type HourlySummary struct {
	Datetime   time.Time
	StationID  int64
	VariableID int64
	Min        float64
	Max        float64
	Avg        float64
	Sum        float64
	NumRecords int
}

// DailySummary is one daily_summary row. Day is the station-local
// calendar date, formatted 2006-01-02.
type DailySummary struct {
	Day        string
	StationID  int64
	VariableID int64
	Min        float64
	Max        float64
	Avg        float64
	Sum        float64
	NumRecords int
}

// Last24hSummary is one last24h_summary row, rebuilt wholesale from the
// rolling 24 hour window.
type Last24hSummary struct {
	Datetime    time.Time
	StationID   int64
	VariableID  int64
	Min         float64
	Max         float64
	Avg         float64
	Sum         float64
	NumRecords  int
	LatestValue float64
}

// MinimumInterval records, per station-local day and variable, the
// smallest observed inter-arrival interval and how complete the day's
// record is against it.
type MinimumInterval struct {
	Day                    string
	StationID              int64
	VariableID             int64
	MinimumIntervalSeconds int
	RecordCount            int
	IdealRecordCount       float64
	RecordCountPercentage  float64
}

// HourlySummaryTask is a pending recomputation of one station's hourly
// summaries for one UTC hour. started_at null means pending; finished_at
// set means terminal.
type HourlySummaryTask struct {
	ID         int64
	Datetime   time.Time
	StationID  int64
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
}

// DailySummaryTask is the daily counterpart, keyed by station-local day.
type DailySummaryTask struct {
	ID         int64
	Day        string
	StationID  int64
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
}

// HFSummaryTask asks for a high-frequency window of one station/variable
// pair to be decomposed into derived readings.
type HFSummaryTask struct {
	ID            int64
	StationID     int64
	VariableID    int64
	StartDatetime time.Time
	EndDatetime   time.Time
	StartedAt     sql.NullTime
	FinishedAt    sql.NullTime
}

// HFSample is one high-frequency reading (typically 1 Hz sea level).
type HFSample struct {
	StationID  int64
	VariableID int64
	Datetime   time.Time
	Measured   float64
}

// PersistThreshold is one qc_persist_thresholds row. A null Interval
// means the row applies regardless of the detected sampling interval.
type PersistThreshold struct {
	StationID       int64
	VariableID      int64
	Interval        sql.NullInt64
	Window          int
	MinimumVariance float64
}
