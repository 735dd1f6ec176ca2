// Package geo resolves postal codes to coordinates and measures distances
// between them. Resolution never fails loudly: an unknown location is
// reported as unresolved.
package geo

import (
	"context"
	"math"
	"strings"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
}

// Resolver maps a postal code and city to a point.
type Resolver interface {
	Resolve(ctx context.Context, postalCode, city string) (Point, bool)
}

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// NormalizeZip strips whitespace from a postal code.
func NormalizeZip(zip string) string {
	return strings.ReplaceAll(strings.TrimSpace(zip), " ", "")
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func cacheKey(postalCode, city string) string {
	return NormalizeZip(postalCode) + "|" + normalizeCity(city)
}
