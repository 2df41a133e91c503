package model_test

import (
	"testing"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
	"ecosim/internal/estimator"
	"ecosim/internal/model"
	"ecosim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain_Scenario(t *testing.T) {
	mdl, report, err := model.Train(testkit.ScenarioTable(), testkit.ScenarioCatalogue(), estimator.DefaultOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, mdl.Version)
	assert.Equal(t, mdl.Version, report.Version)
	assert.False(t, mdl.CreatedAt.IsZero())
	assert.Equal(t, 5, report.Samples)
	assert.Equal(t, 56, report.Edges)
	require.NotNil(t, report.Estimator)
	assert.Equal(t, estimator.DefaultEquivalentSampleSize, report.Estimator.EquivalentSampleSize)

	assert.Equal(t, 13, mdl.Registry.Len())
	assert.False(t, mdl.Registry.Has("County"), "metadata gets no transform")
	require.NoError(t, mdl.Validate())
}

func TestTrain_VersionsDiffer(t *testing.T) {
	a := testkit.TrainScenario(t)
	b := testkit.TrainScenario(t)
	assert.NotEqual(t, a.Version, b.Version)
}

func TestTrain_CategoricalReport(t *testing.T) {
	table := testkit.NewCountyGenerator(testkit.DefaultCountyConfig()).Generate()
	_, report, err := model.Train(table, testkit.GeneratedCatalogue(), estimator.DefaultOptions())
	require.NoError(t, err)

	var landUse *model.VariableReport
	for i := range report.Variables {
		if report.Variables[i].ID == "LandUse" {
			landUse = &report.Variables[i]
		}
	}
	require.NotNil(t, landUse)
	assert.Equal(t, catalogue.KindCategorical, landUse.Kind)
	assert.Equal(t, 3, landUse.Cardinality)
	assert.Empty(t, landUse.Strategy)
}

func TestTrain_EmptyTable(t *testing.T) {
	table, err := dataset.NewTable(testkit.ScenarioTable().Headers, nil)
	require.NoError(t, err)

	_, _, err = model.Train(table, testkit.ScenarioCatalogue(), estimator.DefaultOptions())
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func TestTrain_MissingColumn(t *testing.T) {
	cat := testkit.ScenarioCatalogue()
	cat.Variables = append(cat.Variables, catalogue.Variable{ID: "Noise", Tier: catalogue.TierState, Kind: catalogue.KindContinuous})

	_, _, err := model.Train(testkit.ScenarioTable(), cat, estimator.DefaultOptions())
	assert.ErrorIs(t, err, core.ErrDataQuality)
	assert.Contains(t, err.Error(), "Noise")
}

func TestValidate_DetectsMismatch(t *testing.T) {
	t.Run("tier changed", func(t *testing.T) {
		mdl := testkit.TrainScenario(t)
		for i, v := range mdl.Catalogue.Variables {
			if v.ID == "Ozone" {
				mdl.Catalogue.Variables[i].Tier = catalogue.TierImpact
			}
		}
		assert.Error(t, mdl.Validate())
	})

	t.Run("extra catalogue variable", func(t *testing.T) {
		mdl := testkit.TrainScenario(t)
		mdl.Catalogue.Variables = append(mdl.Catalogue.Variables,
			catalogue.Variable{ID: "Noise", Tier: catalogue.TierState, Kind: catalogue.KindContinuous})
		assert.Error(t, mdl.Validate())
	})

	t.Run("transforms from another model", func(t *testing.T) {
		mdl := testkit.TrainScenario(t)
		other := testkit.TrainModel(t,
			testkit.NewCountyGenerator(testkit.DefaultCountyConfig()).Generate(),
			testkit.GeneratedCatalogue())
		mdl.Registry = other.Registry
		assert.Error(t, mdl.Validate())
	})

	t.Run("incomplete", func(t *testing.T) {
		mdl := testkit.TrainScenario(t)
		mdl.Network = nil
		assert.Error(t, mdl.Validate())
	})
}
