package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/checkpoint"
	"github.com/lox/soilclimate/internal/httputil"
	"github.com/lox/soilclimate/internal/ingest"
	"github.com/lox/soilclimate/internal/logging"
	"github.com/lox/soilclimate/internal/metrics"
	"github.com/lox/soilclimate/internal/models"
	"github.com/lox/soilclimate/internal/store"
)

// app holds the components shared by every command.
type app struct {
	ctx    context.Context
	g      *Globals
	logger *slog.Logger
	stderr io.Writer

	db     *sql.DB
	store  *store.Store
	cache  cache.Store
	pool   *httputil.Pool
	pacer  *ingest.Pacer
	client *ingest.Client
}

func newApp(ctx context.Context, g *Globals, stderr io.Writer) (*app, error) {
	logger := logging.New(stderr, g.LogLevel, g.LogFormat)

	db, err := store.Open(g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		ctx:    ctx,
		g:      g,
		logger: logger,
		stderr: stderr,
		db:     db,
		store:  st,
		pacer:  ingest.NewPacer(clockwork.NewRealClock()),
	}

	switch g.Cache {
	case "sqlite":
		a.cache = st.PayloadCache()
	default:
		fc, err := cache.NewFileCache(g.CacheDir, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.cache = fc
	}

	a.pool = httputil.NewPool(g.SessionUses)
	rc := httputil.NewRetryClient(a.pool, httputil.DefaultPolicy(g.MaxTries), logger)

	cfg := ingest.DefaultConfig(g.APIKey)
	cfg.BaseURL = g.BaseURL
	if g.MaxTries > 0 {
		cfg.DataTries = g.MaxTries
	}
	a.client = ingest.NewClient(rc, cfg, a.pacer, logger)

	return a, nil
}

func (a *app) requireAPIKey() error {
	if a.g.APIKey == "" {
		return errors.New("AEMET API key required (--api-key or AEMET_API_KEY)")
	}
	return nil
}

func (a *app) inventory() *ingest.Inventory {
	return ingest.NewInventory(a.client, a.cache, a.g.Year, a.logger)
}

// loadStations serves the inventory from the cache when it can, so the API
// key is only needed for a download.
func (a *app) loadStations() ([]models.Station, error) {
	inv := a.inventory()
	if stations, ok := inv.Cached(); ok {
		return stations, nil
	}
	if err := a.requireAPIKey(); err != nil {
		return nil, err
	}
	return inv.Load(a.ctx)
}

func (a *app) openLedger() (*checkpoint.Ledger, error) {
	if a.g.Ledger == "sqlite" {
		done, err := a.store.OpenLedgerSet(store.LedgerDone, a.g.Year)
		if err != nil {
			return nil, err
		}
		failed, err := a.store.OpenLedgerSet(store.LedgerFailed, a.g.Year)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewLedger(done, failed), nil
	}
	return checkpoint.OpenFileLedger(a.g.CacheDir, a.g.Year)
}

func (a *app) collector(ledger *checkpoint.Ledger) *ingest.Collector {
	dl := ingest.NewDownloader(a.client, a.cache, a.pacer, a.g.SubRangePause.Range(), a.logger)

	cfg := ingest.CollectorConfig{
		Year:         a.g.Year,
		StationPause: a.g.StationPause.Range(),
	}
	if !a.g.NoProgress {
		cfg.Progress = a.stderr
	}
	return ingest.NewCollector(dl, a.cache, ledger, a.store, a.pacer, cfg, a.logger)
}

// Close flushes metrics and releases the database.
func (a *app) Close() error {
	var errs []error
	if a.g.MetricsFile != "" {
		if err := metrics.WriteTextfile(a.g.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.pool.Rotations() > 0 {
		a.logger.Debug("connection pool rotated", "rotations", a.pool.Rotations())
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
