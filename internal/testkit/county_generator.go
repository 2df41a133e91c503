package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
)

// CountyGeneratorConfig configures the synthetic county table generator
type CountyGeneratorConfig struct {
	CountyCount int     `json:"county_count"`
	Noise       float64 `json:"noise"`        // standard deviation of additive noise, in 0-100 units
	MissingRate float64 `json:"missing_rate"` // probability that a pressure cell is blank
	Seed        int64   `json:"seed"`
}

// DefaultCountyConfig returns defaults sized like the real county table
func DefaultCountyConfig() CountyGeneratorConfig {
	return CountyGeneratorConfig{
		CountyCount: 58,
		Noise:       6,
		MissingRate: 0.02,
		Seed:        42,
	}
}

// CountyGenerator produces county tables with a known causal direction:
// pressures drive states and both drive impacts, all increasing in a latent
// pollution burden.
type CountyGenerator struct {
	config CountyGeneratorConfig
	rng    *rand.Rand
}

// NewCountyGenerator creates a new generator
func NewCountyGenerator(config CountyGeneratorConfig) *CountyGenerator {
	return &CountyGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// GeneratedCatalogue is the catalogue matching Generate's columns. LandUse is
// a categorical pressure; PM25 reads the "PM2.5" column.
func GeneratedCatalogue() catalogue.Catalogue {
	return catalogue.Catalogue{Variables: []catalogue.Variable{
		{ID: "County", Tier: catalogue.TierMetadata, Kind: catalogue.KindCategorical},
		{ID: "PollutionBurdenScore", Tier: catalogue.TierPressure, Kind: catalogue.KindContinuous},
		{ID: "Traffic", Tier: catalogue.TierPressure, Kind: catalogue.KindContinuous},
		{ID: "LandUse", Tier: catalogue.TierPressure, Kind: catalogue.KindCategorical},
		{ID: "Ozone", Tier: catalogue.TierState, Kind: catalogue.KindContinuous},
		{ID: core.VariableKey("PM25"), Column: "PM2.5", Tier: catalogue.TierState, Kind: catalogue.KindContinuous},
		{ID: "Asthma", Tier: catalogue.TierImpact, Kind: catalogue.KindContinuous},
		{ID: "LowBirthWeight", Tier: catalogue.TierImpact, Kind: catalogue.KindAuto},
	}}
}

// Generate builds the table
func (g *CountyGenerator) Generate() *dataset.Table {
	headers := []string{"County", "PollutionBurdenScore", "Traffic", "LandUse", "Ozone", "PM2.5", "Asthma", "LowBirthWeight"}
	rows := make([][]string, 0, g.config.CountyCount)

	for i := 0; i < g.config.CountyCount; i++ {
		burden := g.rng.Float64() * 100

		pollution := g.bounded(burden)
		traffic := g.bounded(0.8*burden + 10)
		landUse := g.landUse(burden)

		ozone := g.bounded(0.5*pollution + 0.3*traffic + 10)
		pm25 := g.bounded(0.6*pollution + 0.2*traffic + 12)

		asthma := g.bounded(0.5*ozone + 0.4*pm25 + 5)
		lbw := g.bounded(0.3*ozone + 0.5*pm25 + 10)

		rows = append(rows, []string{
			fmt.Sprintf("county_%02d", i+1),
			g.cell(pollution, true),
			g.cell(traffic, true),
			landUse,
			g.cell(ozone, false),
			g.cell(pm25, false),
			g.cell(asthma, false),
			g.cell(lbw, false),
		})
	}

	table, err := dataset.NewTable(headers, rows)
	if err != nil {
		panic(err)
	}
	return table
}

// bounded adds noise and keeps the value on the 0-100 scale
func (g *CountyGenerator) bounded(x float64) float64 {
	return math.Max(0, math.Min(100, x+g.rng.NormFloat64()*g.config.Noise))
}

func (g *CountyGenerator) landUse(burden float64) string {
	switch u := burden + g.rng.NormFloat64()*10; {
	case u > 66:
		return "industrial"
	case u > 33:
		return "urban"
	default:
		return "rural"
	}
}

// cell formats a value; pressure cells go missing at MissingRate
func (g *CountyGenerator) cell(x float64, canBeMissing bool) string {
	if canBeMissing && g.rng.Float64() < g.config.MissingRate {
		return ""
	}
	return strconv.FormatFloat(x, 'f', 2, 64)
}
