// Package generator produces plausible synthetic temperature readings for
// the registered cities, following each city's local time of day.
package generator

import (
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/tempglobe/internal/location"
)

// Climate is the daily temperature profile of a city.
type Climate struct {
	// Mean is the daily mean temperature in °C.
	Mean float64
	// Swing is the amplitude of the daily cycle in °C.
	Swing float64
}

// DefaultClimate is used for cities without a known profile.
var DefaultClimate = Climate{Mean: 15, Swing: 5}

var climates = map[string]Climate{
	"tokyo":     {Mean: 16, Swing: 4},
	"helsinki":  {Mean: 6, Swing: 5},
	"newyork":   {Mean: 13, Swing: 5},
	"amsterdam": {Mean: 10, Swing: 4},
	"dubai":     {Mean: 28, Swing: 6},
}

const (
	// the daily cycle peaks at 15:00 local time
	peakHour = 15.0

	defaultNoise       = 1.5
	defaultAnomalyRate = 0.05
	anomalySpread      = 15.0

	// readings stay strictly inside the accepted range
	limit = 100.9
)

// Reading is one synthetic submission. It marshals to the submission
// wire format {"id","temperature"}.
type Reading struct {
	Location    location.Location `json:"-"`
	LocationID  int               `json:"id"`
	Temperature float64           `json:"temperature"`
}

// Generator draws readings for a fixed set of cities. It is not safe for
// concurrent use; give each goroutine its own Generator.
type Generator struct {
	faker       *gofakeit.Faker
	locations   []location.Location
	noise       float64
	anomalyRate float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithNoise sets the amplitude of the random jitter in °C.
func WithNoise(noise float64) Option {
	return func(g *Generator) { g.noise = noise }
}

// WithAnomalyRate sets the share of readings that carry a spike.
func WithAnomalyRate(rate float64) Option {
	return func(g *Generator) { g.anomalyRate = rate }
}

// New returns a Generator for locations. A zero seed seeds randomly.
func New(locations []location.Location, seed uint64, opts ...Option) *Generator {
	g := &Generator{
		faker:       gofakeit.New(seed),
		locations:   locations,
		noise:       defaultNoise,
		anomalyRate: defaultAnomalyRate,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ClimateOf returns the profile used for loc.
func ClimateOf(loc location.Location) Climate {
	if c, ok := climates[loc.Slug]; ok {
		return c
	}
	return DefaultClimate
}

// LocalHour returns the fractional hour of day at loc for t.
func LocalHour(loc location.Location, t time.Time) float64 {
	local := t.UTC().Add(time.Duration(loc.UTCOffsetHours) * time.Hour)
	return float64(local.Hour()) + float64(local.Minute())/60
}

// Expected returns the noise-free temperature at loc for t.
func Expected(loc location.Location, t time.Time) float64 {
	c := ClimateOf(loc)
	return c.Mean + c.Swing*math.Cos((LocalHour(loc, t)-peakHour)*math.Pi/12)
}

// Temperature draws a reading for loc at t, rounded to one decimal.
func (g *Generator) Temperature(loc location.Location, t time.Time) float64 {
	v := Expected(loc, t)

	if g.noise > 0 {
		v += g.faker.Float64Range(-g.noise, g.noise)
	}

	if g.anomalyRate > 0 && g.faker.Float64() < g.anomalyRate {
		v += g.faker.Float64Range(-anomalySpread/2, anomalySpread/2)
	}

	v = math.Round(v*10) / 10
	return math.Max(-limit, math.Min(limit, v))
}

// Next draws a reading for a random city at t. It panics if the Generator
// has no locations.
func (g *Generator) Next(t time.Time) Reading {
	loc := g.locations[g.faker.Number(0, len(g.locations)-1)]
	return Reading{
		Location:    loc,
		LocationID:  loc.ID,
		Temperature: g.Temperature(loc, t),
	}
}
