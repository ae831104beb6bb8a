package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/models"
)

// ErrEmptyInventory means no station with usable coordinates could be
// obtained, from the cache or the network.
var ErrEmptyInventory = errors.New("station inventory has no stations with valid coordinates")

// InventorySource fetches the raw station inventory.
type InventorySource interface {
	FetchInventory(ctx context.Context) (json.RawMessage, error)
}

// Inventory loads the station list through the payload cache.
type Inventory struct {
	source InventorySource
	cache  cache.Store
	year   int
	logger *slog.Logger
}

func NewInventory(source InventorySource, store cache.Store, year int, logger *slog.Logger) *Inventory {
	return &Inventory{source: source, cache: store, year: year, logger: logger}
}

// Load returns every station with valid coordinates. Stations inactive in
// the target year are kept; the assigner needs them for its fallback.
func (inv *Inventory) Load(ctx context.Context) ([]models.Station, error) {
	if stations, ok := inv.Cached(); ok {
		return stations, nil
	}

	raw, err := inv.source.FetchInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}
	stations, discarded := ParseStations(raw)
	if len(stations) == 0 {
		return nil, ErrEmptyInventory
	}
	// Overwrites a cached snapshot that had no usable stations.
	if err := inv.cache.Replace(cache.InventoryKey(), raw); err != nil {
		return nil, fmt.Errorf("cache inventory: %w", err)
	}

	inv.logSummary("network", stations, discarded)
	return stations, nil
}

// Cached returns the stations of the cached snapshot, if it has any with
// valid coordinates.
func (inv *Inventory) Cached() ([]models.Station, bool) {
	raw, ok := inv.cache.Load(cache.InventoryKey())
	if !ok {
		return nil, false
	}
	stations, discarded := ParseStations(raw)
	if len(stations) == 0 {
		inv.logger.Warn("cached inventory has no usable stations, reloading")
		return nil, false
	}
	inv.logSummary("cache", stations, discarded)
	return stations, true
}

func (inv *Inventory) logSummary(source string, stations []models.Station, discarded int) {
	active := 0
	for _, st := range stations {
		if st.ActiveDuring(inv.year) {
			active++
		}
	}
	inv.logger.Info("inventory loaded",
		"source", source,
		"stations", len(stations),
		"active", active,
		"year", inv.year,
		"discarded", discarded,
	)
}

// ParseStations decodes the inventory array, dropping entries without an id
// or with coordinates that do not parse into lat [-90,90], lon [-180,180].
func ParseStations(raw []byte) ([]models.Station, int) {
	var stations []models.Station
	discarded := 0

	gjson.ParseBytes(raw).ForEach(func(_, item gjson.Result) bool {
		id := strings.TrimSpace(item.Get("indicativo").String())
		lat, latOK := ParseCoordinate(item.Get("latitud").String())
		lon, lonOK := ParseCoordinate(item.Get("longitud").String())
		if id == "" || !latOK || !lonOK || lat < -90 || lat > 90 {
			discarded++
			return true
		}

		stations = append(stations, models.Station{
			ID:         id,
			Name:       strings.TrimSpace(item.Get("nombre").String()),
			Province:   strings.TrimSpace(item.Get("provincia").String()),
			Latitude:   lat,
			Longitude:  lon,
			ActiveFrom: parseNullDate(item.Get("fechaAlta")),
			ActiveTo:   parseNullDate(item.Get("fechaBaja")),
		})
		return true
	})
	return stations, discarded
}

func parseNullDate(v gjson.Result) sql.NullTime {
	if v.Type != gjson.String {
		return sql.NullTime{}
	}
	t, ok := parseDate(v.String())
	if !ok {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
