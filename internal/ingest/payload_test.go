package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/soilclimate/internal/models"
)

func TestDecodeDaily(t *testing.T) {
	raw := []byte(`[
		{"fecha":"2017-03-14","indicativo":"3195","nombre":"MADRID, RETIRO","provincia":"MADRID","altitud":"667",
		 "tmed":"12,4","prec":"Ip","tmin":"5,1","horatmin":"06:10","tmax":"19,7","horatmax":"Varias",
		 "velmedia":2.5,"racha":"","sol":"9,8"},
		{"fecha":"not a date","tmed":"8,0","prec":"1,2"},
		"stray value"
	]`)

	records, err := DecodeDaily(raw, "3195")
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "3195", first.StationID)
	assert.Equal(t, time.Date(2017, 3, 14, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, 3, first.Month)
	assert.InDelta(t, 12.4, first.Values[models.FieldTMed].Float64, 1e-9)
	assert.True(t, first.Values[models.FieldPrec].Valid)
	assert.Equal(t, 0.0, first.Values[models.FieldPrec].Float64)
	assert.InDelta(t, 2.5, first.Values[models.FieldVelMedia].Float64, 1e-9)

	racha, present := first.Values[models.FieldRacha]
	assert.True(t, present, "unparseable fields keep their key")
	assert.False(t, racha.Valid)

	for _, name := range []string{"horatmin", "horatmax", "nombre", "provincia", "indicativo", "altitud", "fecha"} {
		_, ok := first.Values[name]
		assert.False(t, ok, "%s is not a measurement", name)
	}

	second := records[1]
	assert.Equal(t, 0, second.Month)
	assert.True(t, second.Date.IsZero())
	assert.InDelta(t, 1.2, second.Values[models.FieldPrec].Float64, 1e-9)
}

func TestDecodeDaily_EmptyAndInvalid(t *testing.T) {
	records, err := DecodeDaily(nil, "X")
	require.NoError(t, err)
	assert.Nil(t, records)

	_, err = DecodeDaily([]byte(`{"estado":404}`), "X")
	assert.ErrorIs(t, err, errNotArray)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2017-01-05", "2017-01-05", true},
		{"2017-01-05T00:00:00", "2017-01-05", true},
		{"2016-12-31T10:00:00Z", "2016-12-31", true},
		{"05/01/2017", "2017-01-05", true},
		{"", "", false},
		{"yesterday", "", false},
	}

	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format(time.DateOnly) != tt.want {
			t.Errorf("parseDate(%q) = %s, want %s", tt.in, got.Format(time.DateOnly), tt.want)
		}
	}
}

func TestJoinArray(t *testing.T) {
	assert.Equal(t, "[]", string(joinArray(nil)))
	assert.Equal(t, `[{"a":1},{"b":2}]`, string(joinArray([]string{`{"a":1}`, `{"b":2}`})))
}
