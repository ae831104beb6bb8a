package models

import (
	"database/sql"
	"maps"
	"slices"
	"time"
)

// Well-known AEMET daily measurement names.
const (
	FieldTMed     = "tmed"
	FieldTMax     = "tmax"
	FieldTMin     = "tmin"
	FieldPrec     = "prec"
	FieldVelMedia = "velmedia"
	FieldRacha    = "racha"
	FieldSol      = "sol"
	FieldPresMax  = "presMax"
	FieldPresMin  = "presMin"
	FieldHRMedia  = "hrMedia"
)

type Station struct {
	ID         string
	Name       string
	Province   string
	Latitude   float64
	Longitude  float64
	ActiveFrom sql.NullTime // fechaAlta
	ActiveTo   sql.NullTime // fechaBaja, null while still operating
}

// ActiveDuring reports whether the station's validity window intersects the
// calendar year. Unset bounds are unbounded.
func (s Station) ActiveDuring(year int) bool {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)

	if s.ActiveFrom.Valid && s.ActiveFrom.Time.After(yearEnd) {
		return false
	}
	if s.ActiveTo.Valid && s.ActiveTo.Time.Before(yearStart) {
		return false
	}
	return true
}

type Profile struct {
	ID        string
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
}

// HasCoordinates reports whether the profile can take part in station assignment.
func (p Profile) HasCoordinates() bool {
	return p.Latitude.Valid && p.Longitude.Valid
}

type Assignment struct {
	ProfileID   string
	StationID   string
	StationName string
	Province    string
	DistanceKM  float64
	Rank        int  // 1 = nearest station overall
	Active      bool // station operational during the target year
}

type DailyRecord struct {
	StationID string
	Date      time.Time
	Month     int // 0 when the date could not be parsed
	Values    map[string]sql.NullFloat64
}

// Clone returns a deep copy so callers can fill values without touching the source.
func (r DailyRecord) Clone() DailyRecord {
	out := r
	out.Values = maps.Clone(r.Values)
	if out.Values == nil {
		out.Values = make(map[string]sql.NullFloat64)
	}
	return out
}

// FieldNames returns the sorted union of measurement names across records.
func FieldNames(records []DailyRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for name := range r.Values {
			seen[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
