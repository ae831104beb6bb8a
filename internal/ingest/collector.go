package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/checkpoint"
	"github.com/lox/soilclimate/internal/metrics"
	"github.com/lox/soilclimate/internal/models"
	"github.com/lox/soilclimate/internal/store"
)

const (
	auditSource   = "aemet"
	auditEndpoint = "climatologicos/diarios"
)

var errNoData = errors.New("no data at any granularity")

// YearFetcher is satisfied by *Downloader.
type YearFetcher interface {
	FetchYear(ctx context.Context, stationID string, year int) ([]models.DailyRecord, error)
}

// Auditor records one row per station fetch (*store.Store).
type Auditor interface {
	StartIngestRun(runID, source, endpoint, stationID string, year int) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
}

type CollectorConfig struct {
	Year         int
	StationPause PauseRange
	// Progress, when non-nil, receives a progress bar.
	Progress io.Writer
}

// Collector downloads a year of daily data for a list of stations,
// checkpointing each one so an interrupted run can resume.
type Collector struct {
	fetcher YearFetcher
	cache   cache.Store
	ledger  *checkpoint.Ledger
	audit   Auditor
	pacer   *Pacer
	cfg     CollectorConfig
	logger  *slog.Logger
}

// NewCollector builds a collector. audit may be nil.
func NewCollector(fetcher YearFetcher, payloads cache.Store, ledger *checkpoint.Ledger, audit Auditor, pacer *Pacer, cfg CollectorConfig, logger *slog.Logger) *Collector {
	return &Collector{
		fetcher: fetcher,
		cache:   payloads,
		ledger:  ledger,
		audit:   audit,
		pacer:   pacer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Result holds the records gathered by one Collect call.
type Result struct {
	RunID    string
	Stations []string // unique ids in first-seen order
	Records  map[string][]models.DailyRecord

	Done    int
	Failed  int
	Skipped int
}

// All returns every record in station order.
func (r *Result) All() []models.DailyRecord {
	var out []models.DailyRecord
	for _, id := range r.Stations {
		out = append(out, r.Records[id]...)
	}
	return out
}

// Collect processes stationIDs sequentially. Stations already marked done
// are not fetched again; their records come from the cache. A station that
// errors or yields nothing is marked failed and the loop moves on. Every
// station, skipped ones included, is followed by a randomized pause. On
// cancellation the partial result is returned with the context error and
// the station in progress is left unmarked.
func (c *Collector) Collect(ctx context.Context, stationIDs []string) (*Result, error) {
	ids := uniqueIDs(stationIDs)
	res := &Result{
		RunID:    uuid.NewString(),
		Stations: ids,
		Records:  make(map[string][]models.DailyRecord, len(ids)),
	}

	var bar *pb.ProgressBar
	if c.cfg.Progress != nil {
		bar = pb.New(len(ids)).SetWriter(c.cfg.Progress).Start()
		defer bar.Finish()
	}
	step := func() {
		if bar != nil {
			bar.Increment()
		}
	}

	c.logger.Info("collecting climate data", "run_id", res.RunID, "stations", len(ids), "year", c.cfg.Year)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := c.processStation(ctx, res, id); err != nil {
			return res, err
		}
		step()

		if err := c.pacer.Pause(ctx, c.cfg.StationPause); err != nil {
			return res, err
		}
	}

	c.logger.Info("collection finished",
		"run_id", res.RunID,
		"done", res.Done,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res, nil
}

// processStation handles one station and updates res. Only ledger writes and
// cancellation are returned as errors.
func (c *Collector) processStation(ctx context.Context, res *Result, id string) error {
	if c.ledger.IsDone(id) {
		res.Records[id] = c.cachedRecords(id)
		res.Skipped++
		metrics.StationsProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	records, err := c.collectStation(ctx, res.RunID, id)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err != nil {
		c.logger.Warn("station failed", "station", id, "year", c.cfg.Year, "error", err)
		if err := c.ledger.MarkFailed(id); err != nil {
			return err
		}
		res.Failed++
		metrics.StationsProcessed.WithLabelValues("failed").Inc()
		return nil
	}

	if err := c.ledger.MarkDone(id); err != nil {
		return err
	}
	res.Records[id] = records
	res.Done++
	metrics.StationsProcessed.WithLabelValues("done").Inc()
	return nil
}

func (c *Collector) collectStation(ctx context.Context, runID, id string) ([]models.DailyRecord, error) {
	run := c.startAudit(runID, id)

	records, err := c.fetcher.FetchYear(ctx, id, c.cfg.Year)
	if err == nil && len(records) == 0 {
		err = errNoData
	}

	if run != nil {
		run.Success = err == nil
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(records)), Valid: true}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
	}

	if err == nil {
		flags := CountFlags(records)
		total := 0
		for flag, n := range flags {
			total += n
			c.logger.Info("quality flag", "station", id, "flag", flag, "records", n)
		}
		if run != nil {
			run.QualityFlags = sql.NullInt64{Int64: int64(total), Valid: true}
		}
	}

	if run != nil {
		if auditErr := c.audit.CompleteIngestRun(run); auditErr != nil {
			c.logger.Warn("failed to complete ingest run", "station", id, "error", auditErr)
		}
	}

	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Collector) startAudit(runID, id string) *store.IngestRun {
	if c.audit == nil {
		return nil
	}
	run, err := c.audit.StartIngestRun(runID, auditSource, auditEndpoint, id, c.cfg.Year)
	if err != nil {
		c.logger.Warn("failed to start ingest run", "station", id, "error", err)
		return nil
	}
	return run
}

// cachedRecords reads a completed station from the cache only. A missing
// entry contributes no rows.
func (c *Collector) cachedRecords(id string) []models.DailyRecord {
	key := cache.StationYearKey(id, c.cfg.Year)
	raw, ok := c.cache.Load(key)
	if !ok {
		c.logger.Warn("station marked done but not cached", "station", id, "key", key)
		return nil
	}
	records, err := DecodeDaily(raw, id)
	if err != nil {
		c.logger.Warn("cached payload unusable", "station", id, "error", fmt.Errorf("decode %s: %w", key, err))
		return nil
	}
	return records
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
