package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jcastillo/hydromet/internal/metrics"
	"github.com/jcastillo/hydromet/internal/qc"
	"github.com/jcastillo/hydromet/internal/store"
	"github.com/jcastillo/hydromet/internal/summary"
	"github.com/jcastillo/hydromet/internal/wave"
)

// maxTaskBatch caps how many distinct task keys one pass processes.
// Excess pending tasks wait for the next tick; this bounds pass latency
// rather than signalling queue depth.
const maxTaskBatch = 500

const dayFormat = "2006-01-02"

// Scheduler polls the task queue tables and drives QC plus summary
// recomputation. Claims are visibility markers, not locks: every write
// downstream is idempotent, so a racing second scheduler is harmless.
type Scheduler struct {
	store      *store.Store
	aggregator *summary.Aggregator
	qc         *qc.Runner
	wave       *wave.Summarizer
	clock      clockwork.Clock

	pollInterval    time.Duration
	last24hInterval time.Duration
}

func NewScheduler(s *store.Store, clock clockwork.Clock, pollInterval, last24hInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:           s,
		aggregator:      summary.New(s, clock),
		qc:              qc.NewRunner(s),
		wave:            wave.NewSummarizer(s),
		clock:           clock,
		pollInterval:    pollInterval,
		last24hInterval: last24hInterval,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.ProcessTasks(ctx)
	s.ProcessLast24h(ctx)

	taskTicker := s.clock.NewTicker(s.pollInterval)
	last24hTicker := s.clock.NewTicker(s.last24hInterval)
	defer taskTicker.Stop()
	defer last24hTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-taskTicker.Chan():
			s.ProcessTasks(ctx)
		case <-last24hTicker.Chan():
			s.ProcessLast24h(ctx)
		}
	}
}

// ProcessTasks runs one polling pass over all three task queues.
func (s *Scheduler) ProcessTasks(ctx context.Context) {
	s.ProcessHourlyTasks(ctx)
	s.ProcessDailyTasks(ctx)
	s.ProcessHFTasks(ctx)
	s.updatePendingGauges(ctx)
}

// ProcessHourlyTasks claims pending hourly keys, runs persistence QC
// over each hour and rebuilds its hourly summaries. A failed hour is
// released for retry on the next pass.
func (s *Scheduler) ProcessHourlyTasks(ctx context.Context) {
	hours, err := s.store.PendingHourlyTaskHours(ctx, maxTaskBatch)
	if err != nil {
		log.Printf("scheduler: pending hourly tasks: %v", err)
		return
	}

	for _, hour := range hours {
		start := s.clock.Now()
		ids, stationIDs, err := s.store.ClaimHourlyTasks(ctx, hour)
		if err != nil {
			log.Printf("scheduler: claim hourly %s: %v", hour.Format(time.RFC3339), err)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		err = s.processHour(ctx, hour, stationIDs)
		metrics.TaskDuration.WithLabelValues("hourly").Observe(s.clock.Since(start).Seconds())
		if err != nil {
			log.Printf("scheduler: hourly %s: %v", hour.Format(time.RFC3339), err)
			metrics.TasksProcessed.WithLabelValues("hourly", "error").Add(float64(len(ids)))
			if err := s.store.ReleaseHourlyTasks(ctx, ids); err != nil {
				log.Printf("scheduler: release hourly tasks: %v", err)
			}
			continue
		}
		if err := s.store.FinishHourlyTasks(ctx, ids); err != nil {
			log.Printf("scheduler: finish hourly tasks: %v", err)
			continue
		}
		metrics.TasksProcessed.WithLabelValues("hourly", "ok").Add(float64(len(ids)))
	}
}

func (s *Scheduler) processHour(ctx context.Context, hour time.Time, stationIDs []int64) error {
	end := hour.Add(time.Hour)
	if err := s.qc.Run(ctx, hour, end, stationIDs, qc.GranularityHourly); err != nil {
		return err
	}
	return s.aggregator.AggregateHourly(ctx, hour, end, stationIDs)
}

// ProcessDailyTasks is the daily counterpart, keyed by station-local
// day; it also refreshes the per-day minimum-interval records.
func (s *Scheduler) ProcessDailyTasks(ctx context.Context) {
	days, err := s.store.PendingDailyTaskDays(ctx, maxTaskBatch)
	if err != nil {
		log.Printf("scheduler: pending daily tasks: %v", err)
		return
	}

	for _, day := range days {
		start := s.clock.Now()
		ids, stationIDs, err := s.store.ClaimDailyTasks(ctx, day)
		if err != nil {
			log.Printf("scheduler: claim daily %s: %v", day, err)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		err = s.processDay(ctx, day, stationIDs)
		metrics.TaskDuration.WithLabelValues("daily").Observe(s.clock.Since(start).Seconds())
		if err != nil {
			log.Printf("scheduler: daily %s: %v", day, err)
			metrics.TasksProcessed.WithLabelValues("daily", "error").Add(float64(len(ids)))
			if err := s.store.ReleaseDailyTasks(ctx, ids); err != nil {
				log.Printf("scheduler: release daily tasks: %v", err)
			}
			continue
		}
		if err := s.store.FinishDailyTasks(ctx, ids); err != nil {
			log.Printf("scheduler: finish daily tasks: %v", err)
			continue
		}
		metrics.TasksProcessed.WithLabelValues("daily", "ok").Add(float64(len(ids)))
	}
}

func (s *Scheduler) processDay(ctx context.Context, day string, stationIDs []int64) error {
	dayStart, err := time.Parse(dayFormat, day)
	if err != nil {
		return err
	}
	nextDay := dayStart.AddDate(0, 0, 1).Format(dayFormat)

	if err := s.qc.Run(ctx, dayStart, dayStart.AddDate(0, 0, 1), stationIDs, qc.GranularityDaily); err != nil {
		return err
	}
	if err := s.aggregator.AggregateDaily(ctx, day, nextDay, stationIDs); err != nil {
		return err
	}
	return s.aggregator.ComputeMinimumIntervals(ctx, day, nextDay, stationIDs)
}

// ProcessHFTasks claims pending high-frequency windows and decomposes
// each into derived wave readings. Failures are per-task.
func (s *Scheduler) ProcessHFTasks(ctx context.Context) {
	tasks, err := s.store.PendingHFSummaryTasks(ctx, maxTaskBatch)
	if err != nil {
		log.Printf("scheduler: pending hf tasks: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	if err := s.store.ClaimHFSummaryTasks(ctx, ids); err != nil {
		log.Printf("scheduler: claim hf tasks: %v", err)
		return
	}

	var finished, failed []int64
	start := s.clock.Now()
	for _, t := range tasks {
		if err := s.wave.Run(ctx, t); err != nil {
			log.Printf("scheduler: hf task %d: %v", t.ID, err)
			failed = append(failed, t.ID)
			continue
		}
		finished = append(finished, t.ID)
	}
	metrics.TaskDuration.WithLabelValues("hf").Observe(s.clock.Since(start).Seconds())
	metrics.TasksProcessed.WithLabelValues("hf", "ok").Add(float64(len(finished)))
	metrics.TasksProcessed.WithLabelValues("hf", "error").Add(float64(len(failed)))

	if err := s.store.FinishHFSummaryTasks(ctx, finished); err != nil {
		log.Printf("scheduler: finish hf tasks: %v", err)
	}
	if err := s.store.ReleaseHFSummaryTasks(ctx, failed); err != nil {
		log.Printf("scheduler: release hf tasks: %v", err)
	}
}

// ProcessLast24h rebuilds the rolling 24 hour summary table.
func (s *Scheduler) ProcessLast24h(ctx context.Context) {
	if err := s.aggregator.AggregateLast24h(ctx); err != nil {
		log.Printf("scheduler: last24h: %v", err)
	}
}

func (s *Scheduler) updatePendingGauges(ctx context.Context) {
	hourly, daily, hf, err := s.store.PendingTaskCounts(ctx)
	if err != nil {
		log.Printf("scheduler: pending task counts: %v", err)
		return
	}
	metrics.TasksPending.WithLabelValues("hourly").Set(float64(hourly))
	metrics.TasksPending.WithLabelValues("daily").Set(float64(daily))
	metrics.TasksPending.WithLabelValues("hf").Set(float64(hf))
}
