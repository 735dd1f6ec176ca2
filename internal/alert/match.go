package alert

import (
	"strings"

	"github.com/Shivanand-hulikatti/slot-broker/internal/geo"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
)

// target is the resolved location and category of a published slot.
type target struct {
	zip      string
	point    geo.Point
	resolved bool
	category string
}

// matchesGeo applies the radius rule. A radius of zero or less asks for the
// exact postal code; anything else is a great-circle distance bound.
func matchesGeo(sub *model.AlertSubscription, t target) bool {
	if sub.RadiusKm <= 0 {
		return t.zip != "" && geo.NormalizeZip(sub.Zip) == t.zip
	}
	if !t.resolved || !sub.HasCoordinates() {
		return false
	}
	d := geo.Haversine(geo.Point{Lat: *sub.Lat, Lon: *sub.Lon}, t.point)
	return d <= sub.RadiusKm
}

// matchesCategory reports whether the slot category equals or contains any
// configured category, or is contained in one, ignoring case. An empty set
// matches everything.
func matchesCategory(categories []string, category string) bool {
	if len(categories) == 0 {
		return true
	}
	slot := strings.ToLower(strings.TrimSpace(category))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if c == slot || (slot != "" && (strings.Contains(slot, c) || strings.Contains(c, slot))) {
			return true
		}
	}
	return false
}
