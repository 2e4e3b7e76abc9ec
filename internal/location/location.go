// Package location holds the fixed set of cities that accept temperature submissions.
package location

import "slices"

// Coordinates is a longitude/latitude pair. It encodes as [lon, lat].
type Coordinates [2]float64

// Lon returns the longitude.
func (c Coordinates) Lon() float64 { return c[0] }

// Lat returns the latitude.
func (c Coordinates) Lat() float64 { return c[1] }

// Location is an immutable city entry.
type Location struct {
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Coordinates Coordinates `json:"coordinates"`
	// RenderHint is an opaque index consumed by the globe view.
	RenderHint     int `json:"renderHint"`
	UTCOffsetHours int `json:"utcOffsetHours"`
	ID             int `json:"id"`
}

// Registry is a read-only, ordered set of locations.
type Registry struct {
	byID      map[int]Location
	locations []Location
}

var defaultLocations = []Location{
	{ID: 0, Name: "Tokyo", Slug: "tokyo", Coordinates: Coordinates{139.7328635, 35.6584421}, RenderHint: 82, UTCOffsetHours: 9},
	{ID: 1, Name: "Helsinki", Slug: "helsinki", Coordinates: Coordinates{24.9490830, 60.1697530}, RenderHint: 52, UTCOffsetHours: 2},
	{ID: 2, Name: "New York", Slug: "newyork", Coordinates: Coordinates{-73.9938438, 40.7406905}, RenderHint: 168, UTCOffsetHours: -5},
	{ID: 3, Name: "Amsterdam", Slug: "amsterdam", Coordinates: Coordinates{4.9040238, 52.3650691}, RenderHint: 117, UTCOffsetHours: 1},
	{ID: 4, Name: "Dubai", Slug: "dubai", Coordinates: Coordinates{55.1562243, 25.092535}, RenderHint: 3, UTCOffsetHours: 4},
}

// Default returns the registry of the five supported cities.
func Default() *Registry {
	return newRegistry(defaultLocations)
}

func newRegistry(locations []Location) *Registry {
	r := &Registry{
		byID:      make(map[int]Location, len(locations)),
		locations: slices.Clone(locations),
	}
	for _, loc := range r.locations {
		r.byID[loc.ID] = loc
	}
	return r
}

// List returns every location in registry order. The slice is a copy.
func (r *Registry) List() []Location {
	return slices.Clone(r.locations)
}

// Exists reports whether id names a registered location.
func (r *Registry) Exists(id int) bool {
	_, ok := r.byID[id]
	return ok
}

// Get returns the location with the given id.
func (r *Registry) Get(id int) (Location, bool) {
	loc, ok := r.byID[id]
	return loc, ok
}
