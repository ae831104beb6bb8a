package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	dmsSeparators = strings.NewReplacer("º", " ", "°", " ", "’", " ", "'", " ", "″", " ", `"`, " ")
	dmsNumber     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// ParseCoordinate converts an AEMET coordinate string to decimal degrees.
//
// Accepted forms, after an optional trailing hemisphere letter (N, S, E, W):
//   - compact digits: 6+ digits are D…DMMSS, 4-5 digits are D…DMM
//   - decimal degrees, with a dot or a decimal comma
//   - degrees, minutes and seconds separated by ° º ' ’ " ″ or spaces
//
// S and W force a negative result, N and E a positive one. Values outside
// [-180, 180] are rejected.
func ParseCoordinate(raw string) (float64, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	var hemi byte
	if last := s[len(s)-1]; strings.IndexByte("NSEW", last) >= 0 {
		hemi = last
		s = strings.TrimSpace(s[:len(s)-1])
	}
	s = strings.TrimSpace(dmsSeparators.Replace(s))
	if s == "" {
		return 0, false
	}

	v, ok := parseMagnitude(s)
	if !ok || math.IsNaN(v) {
		return 0, false
	}

	switch hemi {
	case 'S', 'W':
		v = -math.Abs(v)
	case 'N', 'E':
		v = math.Abs(v)
	}

	if v < -180 || v > 180 {
		return 0, false
	}
	return v, true
}

func parseMagnitude(s string) (float64, bool) {
	if isDigits(s) {
		n := len(s)
		switch {
		case n >= 6:
			return sexagesimal(s[:n-4], s[n-4:n-2], s[n-2:])
		case n >= 4:
			return sexagesimal(s[:n-2], s[n-2:], "0")
		}
	}

	if v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
		return v, true
	}

	parts := dmsNumber.FindAllString(s, 3)
	if len(parts) == 0 {
		return 0, false
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v, ok := sexagesimal(parts[0], parts[1], parts[2])
	// the sign covers the whole value, minutes and seconds included
	if ok && strings.HasPrefix(s, "-") {
		v = -v
	}
	return v, ok
}

func sexagesimal(deg, min, sec string) (float64, bool) {
	d, err1 := strconv.ParseFloat(strings.Replace(deg, ",", ".", 1), 64)
	m, err2 := strconv.ParseFloat(strings.Replace(min, ",", ".", 1), 64)
	sc, err3 := strconv.ParseFloat(strings.Replace(sec, ",", ".", 1), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return d + m/60 + sc/3600, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
