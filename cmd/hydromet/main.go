package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/jcastillo/hydromet/internal/models"
	"github.com/jcastillo/hydromet/internal/qc"
	"github.com/jcastillo/hydromet/internal/scheduler"
	"github.com/jcastillo/hydromet/internal/store"
	"github.com/jcastillo/hydromet/internal/summary"
	"github.com/jcastillo/hydromet/internal/wave"
)

type cli struct {
	DB           string  `env:"HYDROMET_DB" default:"data/hydromet.db" help:"Path to SQLite database."`
	MissingValue float64 `env:"HYDROMET_MISSING_VALUE" default:"-99.9" help:"Sentinel value excluded from every aggregate."`

	Run           runCmd           `cmd:"" help:"Run the polling scheduler loop."`
	Aggregate     aggregateCmd     `cmd:"" help:"Recompute summaries once and exit."`
	QC            qcCmd            `cmd:"" name:"qc" help:"Run persistence QC over a period and exit."`
	Wave          waveCmd          `cmd:"" help:"Decompose one high-frequency window and exit."`
	BackfillDaily backfillDailyCmd `cmd:"" help:"Rebuild daily summaries over a day range."`
}

type appContext struct {
	store *store.Store
	clock clockwork.Clock
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("hydromet"),
		kong.Description("Station time-series aggregation and persistence-QC engine."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, flags.MissingValue)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	app := &appContext{store: st, clock: clockwork.NewRealClock()}
	kctx.FatalIfErrorf(kctx.Run(app))
}

// stationIDs resolves a --stations flag, defaulting to all active
// stations.
func stationIDs(ctx context.Context, st *store.Store, ids []int64) ([]int64, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	stations, err := st.GetActiveStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch active stations: %w", err)
	}
	out := make([]int64, len(stations))
	for i, s := range stations {
		out[i] = s.ID
	}
	return out, nil
}

type runCmd struct {
	PollInterval    time.Duration `env:"HYDROMET_POLL_INTERVAL" default:"1m" help:"Task queue polling interval."`
	Last24hInterval time.Duration `env:"HYDROMET_LAST24H_INTERVAL" default:"10m" help:"Rolling last-24h rebuild interval."`
	MetricsAddr     string        `env:"HYDROMET_METRICS_ADDR" default:":9090" help:"Prometheus metrics listen address."`
}

func (c *runCmd) Run(app *appContext) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: c.MetricsAddr, Handler: mux}
	go func() {
		log.Printf("metrics listening on %s", c.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	defer srv.Close()

	sched := scheduler.NewScheduler(app.store, app.clock, c.PollInterval, c.Last24hInterval)
	sched.Run(ctx)
	return nil
}

type aggregateCmd struct {
	Hour     string  `help:"Recompute one UTC hour (RFC 3339)."`
	StartDay string  `help:"Recompute daily summaries from this local day (YYYY-MM-DD)."`
	EndDay   string  `help:"Daily recompute end, exclusive (YYYY-MM-DD)."`
	Last24h  bool    `help:"Rebuild the rolling last-24h table."`
	Stations []int64 `help:"Station ids, default all active."`
}

func (c *aggregateCmd) Run(app *appContext) error {
	ctx := context.Background()
	ids, err := stationIDs(ctx, app.store, c.Stations)
	if err != nil {
		return err
	}
	agg := summary.New(app.store, app.clock)

	switch {
	case c.Hour != "":
		hour, err := time.Parse(time.RFC3339, c.Hour)
		if err != nil {
			return fmt.Errorf("parse --hour: %w", err)
		}
		hour = hour.UTC().Truncate(time.Hour)
		return agg.AggregateHourly(ctx, hour, hour.Add(time.Hour), ids)
	case c.StartDay != "" && c.EndDay != "":
		if err := agg.AggregateDaily(ctx, c.StartDay, c.EndDay, ids); err != nil {
			return err
		}
		return agg.ComputeMinimumIntervals(ctx, c.StartDay, c.EndDay, ids)
	case c.Last24h:
		return agg.AggregateLast24h(ctx)
	}
	return fmt.Errorf("one of --hour, --start-day/--end-day or --last24h required")
}

type qcCmd struct {
	Start       string  `required:"" help:"Period start (RFC 3339)."`
	End         string  `required:"" help:"Period end (RFC 3339)."`
	Granularity string  `enum:"hourly,daily" default:"hourly" help:"Summary task kind scheduled for retroactive changes."`
	Stations    []int64 `help:"Station ids, default all active."`
}

func (c *qcCmd) Run(app *appContext) error {
	ctx := context.Background()
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}
	ids, err := stationIDs(ctx, app.store, c.Stations)
	if err != nil {
		return err
	}
	return qc.NewRunner(app.store).Run(ctx, start, end, ids, qc.Granularity(c.Granularity))
}

type waveCmd struct {
	Station  int64  `required:"" help:"Station id."`
	Variable int64  `required:"" help:"High-frequency source variable id."`
	Start    string `required:"" help:"Window start (RFC 3339)."`
	End      string `required:"" help:"Window end (RFC 3339)."`
}

func (c *waveCmd) Run(app *appContext) error {
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}
	task := models.HFSummaryTask{
		StationID:     c.Station,
		VariableID:    c.Variable,
		StartDatetime: start,
		EndDatetime:   end,
	}
	return wave.NewSummarizer(app.store).Run(context.Background(), task)
}

type backfillDailyCmd struct {
	StartDay string  `required:"" help:"First local day to rebuild (YYYY-MM-DD)."`
	EndDay   string  `required:"" help:"Rebuild end, exclusive (YYYY-MM-DD)."`
	Stations []int64 `help:"Station ids, default all active."`
}

func (c *backfillDailyCmd) Run(app *appContext) error {
	ctx := context.Background()
	ids, err := stationIDs(ctx, app.store, c.Stations)
	if err != nil {
		return err
	}
	agg := summary.New(app.store, app.clock)
	log.Printf("backfilling daily summaries %s..%s for %d stations", c.StartDay, c.EndDay, len(ids))
	if err := agg.AggregateDaily(ctx, c.StartDay, c.EndDay, ids); err != nil {
		return err
	}
	if err := agg.ComputeMinimumIntervals(ctx, c.StartDay, c.EndDay, ids); err != nil {
		return err
	}
	log.Println("done")
	return nil
}
