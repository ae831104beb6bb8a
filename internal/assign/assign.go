// Package assign pairs each soil profile with a nearby climate station that
// was operating during the target year.
package assign

import (
	"errors"
	"log/slog"
	"math"
	"slices"

	"github.com/lox/soilclimate/internal/models"
)

const EarthRadiusKM = 6371.0

var (
	ErrNoStations = errors.New("no stations to assign")
	ErrNoProfiles = errors.New("no profiles with coordinates")
)

// HaversineKM is the great-circle distance between two points in decimal
// degrees.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	a = min(max(a, 0), 1)
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(a))
}

type Assigner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Assigner {
	return &Assigner{logger: logger}
}

// Assign returns one assignment per profile with coordinates, in input
// order. Each profile gets the nearest station active during year; Rank is
// that station's 1-based position in the distance ordering. When no station
// was active the nearest one is used with Active false and Rank 1. Equal
// distances keep inventory order.
func (a *Assigner) Assign(profiles []models.Profile, stations []models.Station, year int) ([]models.Assignment, error) {
	if len(stations) == 0 {
		return nil, ErrNoStations
	}

	active := make([]bool, len(stations))
	for i, st := range stations {
		active[i] = st.ActiveDuring(year)
	}

	order := make([]int, len(stations))
	dist := make([]float64, len(stations))

	var out []models.Assignment
	skipped, fallbacks := 0, 0
	for _, p := range profiles {
		if !p.HasCoordinates() {
			skipped++
			continue
		}
		lat, lon := p.Latitude.Float64, p.Longitude.Float64

		for i, st := range stations {
			order[i] = i
			dist[i] = HaversineKM(lat, lon, st.Latitude, st.Longitude)
		}
		slices.SortStableFunc(order, func(x, y int) int {
			switch {
			case dist[x] < dist[y]:
				return -1
			case dist[x] > dist[y]:
				return 1
			}
			return 0
		})

		chosen, rank := order[0], 1
		isActive := false
		for pos, idx := range order {
			if active[idx] {
				chosen, rank, isActive = idx, pos+1, true
				break
			}
		}
		if !isActive {
			fallbacks++
		}

		st := stations[chosen]
		out = append(out, models.Assignment{
			ProfileID:   p.ID,
			StationID:   st.ID,
			StationName: st.Name,
			Province:    st.Province,
			DistanceKM:  dist[chosen],
			Rank:        rank,
			Active:      isActive,
		})
	}

	if skipped > 0 {
		a.logger.Warn("profiles without coordinates skipped", "count", skipped)
	}
	if len(out) == 0 {
		return nil, ErrNoProfiles
	}
	if fallbacks > 0 {
		a.logger.Warn("no active station for some profiles, using nearest inactive", "count", fallbacks, "year", year)
	}
	a.logger.Info("profiles assigned", "assigned", len(out), "stations", len(stations), "year", year)
	return out, nil
}

// StationIDs returns the distinct stations referenced by assignments, in
// first-seen order.
func StationIDs(assignments []models.Assignment) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, a := range assignments {
		if _, ok := seen[a.StationID]; ok {
			continue
		}
		seen[a.StationID] = struct{}{}
		ids = append(ids, a.StationID)
	}
	return ids
}
