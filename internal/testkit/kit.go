package testkit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
	"ecosim/internal/estimator"
	"ecosim/internal/model"

	"github.com/stretchr/testify/require"
)

// Scenario tiers of the five-county fixture
var (
	ScenarioPressure = []string{"PollutionBurdenScore", "Traffic", "Pesticides", "DieselPM", "ToxRelease"}
	ScenarioState    = []string{"Ozone", "PM25", "SpBioRnkEco", "TerrHabRank"}
	ScenarioImpact   = []string{"Asthma", "CardiovascularDisease", "LowBirthWeight", "ClimVulVertCount"}
)

// ScenarioCatalogue returns the catalogue of the five-county fixture. PM25 is
// read from the "PM2.5" column and County is metadata.
func ScenarioCatalogue() catalogue.Catalogue {
	var vars []catalogue.Variable
	add := func(ids []string, tier catalogue.Tier) {
		for _, id := range ids {
			v := catalogue.Variable{ID: core.VariableKey(id), Tier: tier, Kind: catalogue.KindContinuous}
			if id == "PM25" {
				v.Column = "PM2.5"
			}
			vars = append(vars, v)
		}
	}
	vars = append(vars, catalogue.Variable{ID: "County", Tier: catalogue.TierMetadata, Kind: catalogue.KindCategorical})
	add(ScenarioPressure, catalogue.TierPressure)
	add(ScenarioState, catalogue.TierState)
	add(ScenarioImpact, catalogue.TierImpact)
	return catalogue.Catalogue{Variables: vars}
}

// ScenarioTable returns the fixed five-county training table
func ScenarioTable() *dataset.Table {
	headers := []string{
		"County",
		"PollutionBurdenScore", "Traffic", "Pesticides", "DieselPM", "ToxRelease",
		"Ozone", "PM2.5", "SpBioRnkEco", "TerrHabRank",
		"Asthma", "CardiovascularDisease", "LowBirthWeight", "ClimVulVertCount",
	}
	rows := [][]string{
		{"Alameda", "62", "1450", "12", "0.41", "820", "0.045", "10.2", "3", "2", "58.1", "12.4", "6.1", "4"},
		{"Fresno", "81", "980", "2100", "0.38", "1900", "0.061", "14.8", "2", "1", "88.3", "16.9", "7.4", "6"},
		{"Humboldt", "18", "310", "45", "0.09", "95", "0.031", "5.1", "5", "4", "39.7", "9.8", "5.2", "1"},
		{"Kern", "77", "1120", "3400", "0.52", "2600", "0.066", "16.3", "1", "1", "91.2", "18.3", "7.9", "7"},
		{"Marin", "22", "690", "", "0.17", "140", "0.033", "6.0", "4", "5", "35.2", "8.7", "4.9", "2"},
	}
	table, err := dataset.NewTable(headers, rows)
	if err != nil {
		panic(err)
	}
	return table
}

// TrainModel trains a model and fails the test on error
func TrainModel(tb testing.TB, table *dataset.Table, cat catalogue.Catalogue) *model.Model {
	tb.Helper()
	m, _, err := model.Train(table, cat, estimator.DefaultOptions())
	require.NoError(tb, err)
	return m
}

// TrainScenario trains the five-county fixture model
func TrainScenario(tb testing.TB) *model.Model {
	tb.Helper()
	return TrainModel(tb, ScenarioTable(), ScenarioCatalogue())
}

// WriteCSV writes a table to dir/name and returns its path
func WriteCSV(tb testing.TB, dir, name string, table *dataset.Table) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(tb, w.Write(table.Headers))
	require.NoError(tb, w.WriteAll(table.Rows))
	return path
}

// InMemoryModelStore implements ports.ModelStorePort without touching disk
type InMemoryModelStore struct {
	mu     sync.RWMutex
	models []*model.Model
}

func NewInMemoryModelStore() *InMemoryModelStore {
	return &InMemoryModelStore{}
}

func (s *InMemoryModelStore) Save(ctx context.Context, m *model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, m)
	return nil
}

// Load returns the most recently saved model
func (s *InMemoryModelStore) Load(ctx context.Context) (*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.models) == 0 {
		return nil, fmt.Errorf("no model saved")
	}
	return s.models[len(s.models)-1], nil
}

// Saved returns the number of Save calls
func (s *InMemoryModelStore) Saved() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// StaticTableReader implements ports.TableReaderPort over in-memory tables
type StaticTableReader struct {
	Tables map[string]*dataset.Table
}

func (r *StaticTableReader) ReadTable(ctx context.Context, source string) (*dataset.Table, error) {
	t, ok := r.Tables[source]
	if !ok {
		return nil, fmt.Errorf("table not found: %s", source)
	}
	return t, nil
}

// StaticCatalogue implements ports.CataloguePort with a fixed catalogue
type StaticCatalogue struct {
	Catalogue catalogue.Catalogue
}

func (c StaticCatalogue) LoadCatalogue(ctx context.Context, source string) (catalogue.Catalogue, error) {
	return c.Catalogue, nil
}
