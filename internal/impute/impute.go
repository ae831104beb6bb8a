// Package impute fills gaps in daily climate series with progressively
// coarser medians.
package impute

import (
	"database/sql"
	"slices"

	"github.com/lox/soilclimate/internal/metrics"
	"github.com/lox/soilclimate/internal/models"
)

type Level int

const (
	LevelStationMonth Level = iota + 1
	LevelStation
	LevelGlobal
)

func (l Level) String() string {
	switch l {
	case LevelStationMonth:
		return "station_month"
	case LevelStation:
		return "station"
	case LevelGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Report summarises one Impute call.
type Report struct {
	Filled map[Level]int
	// Unfilled counts values per field still null afterwards. Only fields
	// with no value anywhere in the input appear here.
	Unfilled map[string]int
}

func (r Report) TotalFilled() int {
	n := 0
	for _, v := range r.Filled {
		n += v
	}
	return n
}

// Impute returns a copy of records where every null measurement is replaced
// by, in order of preference, the median of the same field for the same
// station and month, for the same station, or across all records. Each level
// sees the values filled by the previous one. Records with an unknown month
// skip the first level. The input is not modified.
func Impute(records []models.DailyRecord) ([]models.DailyRecord, Report) {
	out := make([]models.DailyRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	report := Report{Filled: make(map[Level]int), Unfilled: make(map[string]int)}

	fields := models.FieldNames(records)
	for i := range out {
		for _, f := range fields {
			if _, ok := out[i].Values[f]; !ok {
				out[i].Values[f] = sql.NullFloat64{}
			}
		}
	}

	type stationMonth struct {
		station string
		month   int
	}
	fill(out, fields, LevelStationMonth, &report, func(r models.DailyRecord) (stationMonth, bool) {
		return stationMonth{r.StationID, r.Month}, r.Month != 0
	})
	fill(out, fields, LevelStation, &report, func(r models.DailyRecord) (string, bool) {
		return r.StationID, true
	})
	fill(out, fields, LevelGlobal, &report, func(models.DailyRecord) (struct{}, bool) {
		return struct{}{}, true
	})

	for _, r := range out {
		for _, f := range fields {
			if !r.Values[f].Valid {
				report.Unfilled[f]++
			}
		}
	}
	return out, report
}

// fill replaces nulls with the median of their group. Medians are computed
// before any value of this level is written.
func fill[K comparable](records []models.DailyRecord, fields []string, level Level, report *Report, key func(models.DailyRecord) (K, bool)) {
	groups := make(map[K][]int)
	for i, r := range records {
		if k, ok := key(r); ok {
			groups[k] = append(groups[k], i)
		}
	}

	filled := 0
	for _, idx := range groups {
		for _, f := range fields {
			var vals []float64
			for _, i := range idx {
				if v := records[i].Values[f]; v.Valid {
					vals = append(vals, v.Float64)
				}
			}
			if len(vals) == 0 || len(vals) == len(idx) {
				continue
			}
			m := median(vals)
			for _, i := range idx {
				if !records[i].Values[f].Valid {
					records[i].Values[f] = sql.NullFloat64{Float64: m, Valid: true}
					filled++
				}
			}
		}
	}

	report.Filled[level] += filled
	metrics.ImputedValues.WithLabelValues(level.String()).Add(float64(filled))
}

// median sorts vals in place.
func median(vals []float64) float64 {
	slices.Sort(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
