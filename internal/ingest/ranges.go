package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/metrics"
	"github.com/lox/soilclimate/internal/models"
)

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// Partition splits a year into equal runs of whole months.
type Partition struct {
	Name   string
	Months int
}

// Partitions lists the granularities tried, coarsest first. The archive
// rejects or truncates long ranges for some stations, so a year that comes
// back empty is retried in smaller pieces.
var Partitions = []Partition{
	{Name: "year", Months: 12},
	{Name: "halves", Months: 6},
	{Name: "quarters", Months: 3},
	{Name: "months", Months: 1},
}

// Windows returns the partition's windows for year in chronological order.
func (p Partition) Windows(year int) []Window {
	step := max(p.Months, 1)
	var out []Window
	for m := 1; m <= 12; m += step {
		start := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, step, -1)
		if end.Year() > year {
			end = time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// RangeFetcher retrieves the raw daily rows for one station and window. A
// nil payload means the archive has nothing for that window.
type RangeFetcher interface {
	FetchRange(ctx context.Context, stationID string, w Window) (json.RawMessage, error)
}

// Downloader fetches a station-year, narrowing the request window until the
// archive returns data, and caches the result.
type Downloader struct {
	fetcher    RangeFetcher
	cache      cache.Store
	pacer      *Pacer
	pause      PauseRange
	partitions []Partition
	logger     *slog.Logger
}

func NewDownloader(fetcher RangeFetcher, store cache.Store, pacer *Pacer, pause PauseRange, logger *slog.Logger) *Downloader {
	return &Downloader{
		fetcher:    fetcher,
		cache:      store,
		pacer:      pacer,
		pause:      pause,
		partitions: Partitions,
		logger:     logger,
	}
}

// FetchYear returns every daily record the archive holds for the station in
// year, or nil when no granularity yields data. A cache hit skips the
// network entirely.
func (d *Downloader) FetchYear(ctx context.Context, stationID string, year int) ([]models.DailyRecord, error) {
	key := cache.StationYearKey(stationID, year)
	save := d.cache.Store
	if raw, ok := d.cache.Load(key); ok {
		records, err := DecodeDaily(raw, stationID)
		if err == nil {
			d.logger.Debug("station-year served from cache", "station", stationID, "year", year, "records", len(records))
			return records, nil
		}
		d.logger.Warn("cached payload unusable, refetching", "station", stationID, "year", year, "error", err)
		save = d.cache.Replace
	}

	raw, level, err := d.fetchRaw(ctx, stationID, year)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	records, err := DecodeDaily(raw, stationID)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%d: %w", stationID, year, err)
	}
	if err := save(key, raw); err != nil {
		return nil, fmt.Errorf("cache %s: %w", key, err)
	}

	metrics.PartitionLevel.WithLabelValues(level).Inc()
	metrics.RecordsFetched.Add(float64(len(records)))
	d.logger.Info("fetched station-year", "station", stationID, "year", year, "partition", level, "records", len(records))
	return records, nil
}

// fetchRaw walks the partitions and stops at the first level where any
// window returned rows. Windows that fail are logged and treated as empty.
func (d *Downloader) fetchRaw(ctx context.Context, stationID string, year int) ([]byte, string, error) {
	for _, p := range d.partitions {
		var items []string
		for _, w := range p.Windows(year) {
			data, err := d.fetcher.FetchRange(ctx, stationID, w)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			if err != nil {
				d.logger.Warn("window fetch failed", "station", stationID, "window", w.String(), "error", err)
			} else if data != nil {
				gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
					items = append(items, v.Raw)
					return true
				})
			}
			if err := d.pacer.Pause(ctx, d.pause); err != nil {
				return nil, "", err
			}
		}
		if len(items) > 0 {
			return joinArray(items), p.Name, nil
		}
		d.logger.Info("no data at granularity", "station", stationID, "year", year, "partition", p.Name)
	}
	return nil, "", nil
}
