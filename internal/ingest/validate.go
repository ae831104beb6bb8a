package ingest

import (
	"github.com/lox/soilclimate/internal/models"
)

const (
	FlagTempOutOfRange  = "temp_out_of_range"
	FlagTempInverted    = "tmax_below_tmin"
	FlagPrecipNegative  = "precip_negative"
	FlagWindNegative    = "wind_negative"
	FlagHumidityInvalid = "humidity_invalid"
)

var temperatureFields = []string{models.FieldTMed, models.FieldTMax, models.FieldTMin}

// ValidateRecord returns quality flags for a daily record. Values are never
// altered; the flags only feed logging and the ingest audit.
func ValidateRecord(r models.DailyRecord) []string {
	var flags []string

	for _, f := range temperatureFields {
		if v := r.Values[f]; v.Valid && (v.Float64 < -60 || v.Float64 > 60) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	tmax, tmin := r.Values[models.FieldTMax], r.Values[models.FieldTMin]
	if tmax.Valid && tmin.Valid && tmax.Float64 < tmin.Float64 {
		flags = append(flags, FlagTempInverted)
	}

	if v := r.Values[models.FieldPrec]; v.Valid && v.Float64 < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	for _, f := range []string{models.FieldVelMedia, models.FieldRacha} {
		if v := r.Values[f]; v.Valid && v.Float64 < 0 {
			flags = append(flags, FlagWindNegative)
			break
		}
	}

	if v := r.Values[models.FieldHRMedia]; v.Valid && (v.Float64 < 0 || v.Float64 > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}

	return flags
}

// CountFlags tallies flags across records.
func CountFlags(records []models.DailyRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		for _, f := range ValidateRecord(r) {
			counts[f]++
		}
	}
	return counts
}
