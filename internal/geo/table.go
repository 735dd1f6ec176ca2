package geo

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed postcodes.yaml
var defaultTable []byte

// Entry is one row of a postal code table.
type Entry struct {
	Zip   string `yaml:"zip"`
	City  string `yaml:"city"`
	Point `yaml:",inline"`
}

// TableResolver resolves locations from a static table. Postal codes win;
// the city name is used only when the code is unknown.
type TableResolver struct {
	byZip  map[string]Point
	byCity map[string]Point
}

// ParseTable builds a TableResolver from YAML of the form
//
//	- zip: "10115"
//	  city: Berlin
//	  lat: 52.532
//	  lon: 13.384
func ParseTable(data []byte) (*TableResolver, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse postal table: %w", err)
	}
	t := &TableResolver{byZip: map[string]Point{}, byCity: map[string]Point{}}
	for _, e := range entries {
		if zip := NormalizeZip(e.Zip); zip != "" {
			t.byZip[zip] = e.Point
		}
		if city := normalizeCity(e.City); city != "" {
			if _, ok := t.byCity[city]; !ok {
				t.byCity[city] = e.Point
			}
		}
	}
	return t, nil
}

// LoadTable reads a table from path, or the built-in table when path is
// empty.
func LoadTable(path string) (*TableResolver, error) {
	if path == "" {
		return ParseTable(defaultTable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read postal table: %w", err)
	}
	return ParseTable(data)
}

// Resolve implements Resolver.
func (t *TableResolver) Resolve(_ context.Context, postalCode, city string) (Point, bool) {
	if p, ok := t.byZip[NormalizeZip(postalCode)]; ok {
		return p, true
	}
	if p, ok := t.byCity[normalizeCity(city)]; ok {
		return p, true
	}
	return Point{}, false
}

// Len returns the number of postal codes in the table.
func (t *TableResolver) Len() int {
	return len(t.byZip)
}
