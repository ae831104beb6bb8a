// Package export reads the profile list and writes the pipeline's CSV tables.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lox/soilclimate/internal/models"
)

const (
	AssignmentsFile       = "assignments.csv"
	StationClimateFile    = "climate_station.csv"
	StationClimateImputed = "climate_station_imputed.csv"
	ProfileClimateFile    = "climate_profile.csv"
	ProfileClimateImputed = "climate_profile_imputed.csv"
)

var assignmentHeader = []string{
	"profile_id", "station_id", "station_name", "province",
	"distance_km", "station_active", "station_rank",
}

// ReadProfiles loads profiles from a CSV with a header row. Recognised
// columns (case-insensitive): profile_id, lat or latitude, lon or longitude.
// Coordinates accept a decimal comma; blank, unparseable or non-finite ones
// are null.
func ReadProfiles(r io.Reader) ([]models.Profile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idCol, latCol, lonCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "profile_id", "id":
			idCol = i
		case "lat", "latitude":
			latCol = i
		case "lon", "lng", "longitude":
			lonCol = i
		}
	}
	if idCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, fmt.Errorf("profile CSV needs profile_id, lat and lon columns, got %v", header)
	}

	var profiles []models.Profile
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id := cell(row, idCol)
		if id == "" {
			continue
		}
		profiles = append(profiles, models.Profile{
			ID:        id,
			Latitude:  parseDecimal(cell(row, latCol)),
			Longitude: parseDecimal(cell(row, lonCol)),
		})
	}
	return profiles, nil
}

func ReadProfilesFile(path string) ([]models.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadProfiles(f)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseDecimal(s string) sql.NullFloat64 {
	s = strings.NewReplacer(",", ".", "_", ".").Replace(strings.TrimSpace(s))
	if s == "" {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// WriteAssignments writes one row per assignment.
func WriteAssignments(w io.Writer, assignments []models.Assignment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(assignmentHeader); err != nil {
		return err
	}
	for _, a := range assignments {
		if err := cw.Write([]string{
			a.ProfileID,
			a.StationID,
			a.StationName,
			a.Province,
			strconv.FormatFloat(a.DistanceKM, 'f', 3, 64),
			strconv.FormatBool(a.Active),
			strconv.Itoa(a.Rank),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStationClimate writes station_id, date, month and one column per
// measurement field.
func WriteStationClimate(w io.Writer, records []models.DailyRecord) error {
	fields := models.FieldNames(records)
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"station_id", "date", "month"}, fields...)); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(append([]string{r.StationID}, recordCells(r, fields)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteProfileClimate joins assignments to their station's records. A
// profile whose station has no records still gets one row with empty
// values.
func WriteProfileClimate(w io.Writer, assignments []models.Assignment, byStation map[string][]models.DailyRecord) error {
	var all []models.DailyRecord
	for _, a := range assignments {
		all = append(all, byStation[a.StationID]...)
	}
	fields := models.FieldNames(all)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"profile_id", "station_id", "date", "month"}, fields...)); err != nil {
		return err
	}
	for _, a := range assignments {
		records := byStation[a.StationID]
		if len(records) == 0 {
			if err := cw.Write(append([]string{a.ProfileID, a.StationID}, make([]string, 2+len(fields))...)); err != nil {
				return err
			}
			continue
		}
		for _, r := range records {
			if err := cw.Write(append([]string{a.ProfileID, a.StationID}, recordCells(r, fields)...)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordCells(r models.DailyRecord, fields []string) []string {
	cells := make([]string, 0, 2+len(fields))
	if r.Date.IsZero() {
		cells = append(cells, "", "")
	} else {
		cells = append(cells, r.Date.Format(time.DateOnly), strconv.Itoa(r.Month))
	}
	for _, f := range fields {
		if v := r.Values[f]; v.Valid {
			cells = append(cells, strconv.FormatFloat(v.Float64, 'f', -1, 64))
		} else {
			cells = append(cells, "")
		}
	}
	return cells
}

// GroupByStation indexes records by station id.
func GroupByStation(records []models.DailyRecord) map[string][]models.DailyRecord {
	out := make(map[string][]models.DailyRecord)
	for _, r := range records {
		out[r.StationID] = append(out[r.StationID], r)
	}
	return out
}

// WriteFile creates path (and its directory) and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
