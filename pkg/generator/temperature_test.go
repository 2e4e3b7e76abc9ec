package generator_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/tempglobe/internal/location"
	"procodus.dev/tempglobe/pkg/generator"
)

var _ = Describe("Generator", func() {
	var (
		registry *location.Registry
		tokyo    location.Location
		newYork  location.Location
		noon     time.Time
	)

	BeforeEach(func() {
		registry = location.Default()
		var ok bool
		tokyo, ok = registry.Get(0)
		Expect(ok).To(BeTrue())
		newYork, ok = registry.Get(2)
		Expect(ok).To(BeTrue())
		noon = time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	})

	Describe("LocalHour", func() {
		DescribeTable("should shift UTC by the city offset",
			func(id int, utc time.Time, expected float64) {
				loc, ok := registry.Get(id)
				Expect(ok).To(BeTrue())
				Expect(generator.LocalHour(loc, utc)).To(BeNumerically("~", expected, 1e-9))
			},
			Entry("Tokyo is ahead", 0, time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC), 15.0),
			Entry("New York is behind", 2, time.Date(2024, 7, 1, 3, 30, 0, 0, time.UTC), 22.5),
			Entry("wraps past midnight", 0, time.Date(2024, 7, 1, 20, 0, 0, 0, time.UTC), 5.0),
		)
	})

	Describe("Expected", func() {
		It("should peak in the local afternoon", func() {
			peak := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC) // 15:00 in Tokyo
			trough := peak.Add(12 * time.Hour)

			c := generator.ClimateOf(tokyo)
			Expect(generator.Expected(tokyo, peak)).To(BeNumerically("~", c.Mean+c.Swing, 1e-9))
			Expect(generator.Expected(tokyo, trough)).To(BeNumerically("~", c.Mean-c.Swing, 1e-9))
		})

		It("should fall back to the default climate", func() {
			unknown := location.Location{Slug: "atlantis"}
			Expect(generator.ClimateOf(unknown)).To(Equal(generator.DefaultClimate))
		})
	})

	Describe("Temperature", func() {
		It("should be exact without noise or anomalies", func() {
			g := generator.New(registry.List(), 1, generator.WithNoise(0), generator.WithAnomalyRate(0))
			Expect(g.Temperature(newYork, noon)).To(BeNumerically("~", generator.Expected(newYork, noon), 0.05))
		})

		It("should stay near the expected value", func() {
			g := generator.New(registry.List(), 7, generator.WithAnomalyRate(0))
			for range 200 {
				Expect(g.Temperature(tokyo, noon)).To(BeNumerically("~", generator.Expected(tokyo, noon), 1.6))
			}
		})

		It("should never leave the accepted range", func() {
			hot := location.Location{Slug: "dubai"}
			g := generator.New(nil, 3, generator.WithNoise(200), generator.WithAnomalyRate(1))
			for range 200 {
				t := g.Temperature(hot, noon)
				Expect(t).To(BeNumerically(">", -101))
				Expect(t).To(BeNumerically("<", 101))
			}
		})

		It("should be reproducible for a seed", func() {
			a := generator.New(registry.List(), 42)
			b := generator.New(registry.List(), 42)
			for range 20 {
				Expect(a.Next(noon)).To(Equal(b.Next(noon)))
			}
		})
	})

	Describe("Next", func() {
		It("should only pick registered cities", func() {
			g := generator.New(registry.List(), 11)
			seen := map[int]bool{}
			for range 500 {
				r := g.Next(noon)
				Expect(registry.Exists(r.LocationID)).To(BeTrue())
				Expect(r.Location.ID).To(Equal(r.LocationID))
				seen[r.LocationID] = true
			}
			Expect(seen).To(HaveLen(len(registry.List())))
		})

		It("should marshal to the submission format", func() {
			r := generator.Reading{Location: tokyo, LocationID: 0, Temperature: 21.3}
			b, err := json.Marshal(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(MatchJSON(`{"id":0,"temperature":21.3}`))
		})
	})
})
