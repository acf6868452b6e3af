// README: geo contains pure distance computation and formatting helpers.
package geo

import (
	"fmt"
	"math"

	"trail/internal/types"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between a and b using the
// haversine formula. It is symmetric and zero for identical points.
func DistanceMeters(a, b types.Point) float64 {
	if a.Lat == b.Lat && a.Lng == b.Lng {
		return 0
	}
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// FormatDistance renders a distance for display. Distances that round to
// fewer than 1000 whole meters are shown as "<n> m"; anything else as
// kilometers with one decimal ("1.0 km", "12.3 km"). Invalid input yields "".
func FormatDistance(meters float64) string {
	if meters < 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return ""
	}
	if m := math.Round(meters); m < 1000 {
		return fmt.Sprintf("%d m", int64(m))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs a stable insertion sort (fine for small N) on any
// slice where each element exposes a distance via the accessor function.
// Elements with equal distance keep their relative order.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
