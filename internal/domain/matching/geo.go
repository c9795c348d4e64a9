package matching

import (
	"github.com/golang/geo/s2"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
)

// EarthRadiusKm is the mean Earth radius (IUGG).
const EarthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b facility.Location) float64 {
	p := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	q := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p.Distance(q).Radians() * EarthRadiusKm
}
