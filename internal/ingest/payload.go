package ingest

import (
	"bytes"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/soilclimate/internal/models"
)

var errNotArray = errors.New("payload is not a JSON array")

// Station metadata carried on every daily row; not measurements.
var identityFields = map[string]bool{
	"indicativo": true,
	"nombre":     true,
	"provincia":  true,
	"altitud":    true,
	"fecha":      true,
}

var dateLayouts = []string{
	time.DateOnly,
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.DateTime,
	"02/01/2006",
}

// DecodeDaily turns an AEMET daily-values array into records for stationID.
// Rows keep every measurement key they carry; unparseable values are null.
func DecodeDaily(raw []byte, stationID string) ([]models.DailyRecord, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, errNotArray
	}

	var records []models.DailyRecord
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		rec := models.DailyRecord{
			StationID: stationID,
			Values:    make(map[string]sql.NullFloat64),
		}
		item.ForEach(func(k, v gjson.Result) bool {
			name := k.String()
			switch {
			case name == "fecha":
				if d, ok := parseDate(v.String()); ok {
					rec.Date = d
					rec.Month = int(d.Month())
				}
			case isMeasurement(name):
				rec.Values[name] = parseValue(name, v)
			}
			return true
		})
		records = append(records, rec)
		return true
	})
	return records, nil
}

func isMeasurement(name string) bool {
	return !identityFields[name] && !strings.HasPrefix(strings.ToLower(name), "hora")
}

// parseValue reads a numeric field. AEMET sends numbers as strings with a
// decimal comma, and "Ip" (inapreciable) for trace precipitation.
func parseValue(name string, v gjson.Result) sql.NullFloat64 {
	switch v.Type {
	case gjson.Number:
		return sql.NullFloat64{Float64: v.Float(), Valid: true}
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if strings.HasPrefix(strings.ToLower(name), "prec") && strings.EqualFold(s, "ip") {
			return sql.NullFloat64{Float64: 0, Valid: true}
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: f, Valid: true}
	default:
		return sql.NullFloat64{}
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// joinArray concatenates raw JSON values into a single array.
func joinArray(items []string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(it)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
