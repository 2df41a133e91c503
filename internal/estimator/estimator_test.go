package estimator

import (
	"testing"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
	"ecosim/internal/network"
	"ecosim/internal/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyNetwork(t *testing.T) *network.Network {
	t.Helper()
	cat, err := catalogue.FromTiers([]string{"P"}, nil, []string{"I"})
	require.NoError(t, err)
	net, err := network.Build(cat)
	require.NoError(t, err)
	return net
}

func discrete(t *testing.T, columns []string, card map[string]int, rows ...[]int) *dataset.Discrete {
	t.Helper()
	d := dataset.NewDiscrete(columns, card)
	for _, r := range rows {
		require.NoError(t, d.Append(r))
	}
	return d
}

func TestFit_BDeuValues(t *testing.T) {
	net := tinyNetwork(t)
	d := discrete(t, []string{"P", "I"}, map[string]int{"P": 2, "I": 2},
		[]int{0, 0}, []int{0, 0}, []int{0, 1}, []int{1, 1})

	report, err := Fit(d, net, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Samples)
	assert.Empty(t, report.Degenerate)

	// Root: q=1, alpha=5, theta=(N+5)/(4+10)
	p, ok := net.CPT("P")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{8.0 / 14, 6.0 / 14}, p.Row(0), 1e-12)

	// Child: q=2, alpha=2.5, theta=(N+2.5)/(N_j+5)
	i, ok := net.CPT("I")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{4.5 / 8, 3.5 / 8}, i.Row(0), 1e-12)
	assert.InDeltaSlice(t, []float64{2.5 / 6, 3.5 / 6}, i.Row(1), 1e-12)
}

func TestFit_UnseenConfigurationsAreUniform(t *testing.T) {
	cat, err := catalogue.FromTiers([]string{"P1", "P2"}, nil, []string{"I"})
	require.NoError(t, err)
	net, err := network.Build(cat)
	require.NoError(t, err)

	d := discrete(t, []string{"P1", "P2", "I"}, map[string]int{"P1": 3, "P2": 3, "I": 4},
		[]int{0, 0, 1}, []int{2, 1, 3}, []int{2, 1, 3})

	report, err := Fit(d, net, Options{EquivalentSampleSize: 5})
	require.NoError(t, err)

	cpt, _ := net.CPT("I")
	assert.Len(t, cpt.Rows, 2, "only observed configurations are stored")
	assert.Equal(t, NodeReport{Cardinality: 4, Parents: 2, Configurations: 9, Observed: 2}, report.Nodes["I"])

	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, cpt.Row(cpt.ConfigIndex([]int{1, 1})))
	for config := 0; config < cpt.Configurations(); config++ {
		total := 0.0
		for _, p := range cpt.Row(config) {
			assert.Greater(t, p, 0.0)
			total += p
		}
		assert.InDelta(t, 1.0, total, 1e-9, "config %d", config)
	}
}

func TestFit_DegenerateColumnRecorded(t *testing.T) {
	net := tinyNetwork(t)
	d := discrete(t, []string{"P", "I"}, map[string]int{"P": 3, "I": 2},
		[]int{1, 0}, []int{1, 1}, []int{1, 0})

	report, err := Fit(d, net, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []core.VariableKey{"P"}, report.Degenerate)

	p, _ := net.CPT("P")
	assert.Equal(t, 1, argmax(p.Row(0)))
}

func TestFit_RejectsNonPositiveESS(t *testing.T) {
	net := tinyNetwork(t)
	d := discrete(t, []string{"P", "I"}, map[string]int{"P": 2, "I": 2}, []int{0, 0})

	for _, ess := range []float64{0, -1} {
		_, err := Fit(d, net, Options{EquivalentSampleSize: ess})
		assert.Error(t, err)
	}
}

func TestFit_MissingColumn(t *testing.T) {
	net := tinyNetwork(t)
	d := discrete(t, []string{"P"}, map[string]int{"P": 2}, []int{0})

	_, err := Fit(d, net, DefaultOptions())
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func TestDiscretize(t *testing.T) {
	cat, err := catalogue.New(
		catalogue.Variable{ID: "County", Tier: catalogue.TierMetadata},
		catalogue.Variable{ID: "PM25", Column: "PM2.5", Tier: catalogue.TierPressure, Kind: catalogue.KindContinuous},
		catalogue.Variable{ID: "Region", Tier: catalogue.TierImpact, Kind: catalogue.KindCategorical},
	)
	require.NoError(t, err)
	table, err := dataset.NewTable(
		[]string{"County", "PM2.5", "Region"},
		[][]string{
			{"a", "1", "north"},
			{"b", "2", "south"},
			{"c", "", "north"},
			{"d", "9", "south"},
			{"e", "5", "north"},
		},
	)
	require.NoError(t, err)

	reg := transform.NewRegistry()
	for _, v := range cat.NetworkVariables() {
		cells, err := table.Column(v.SourceColumn())
		require.NoError(t, err)
		tr, err := transform.FitColumn(v, cells)
		require.NoError(t, err)
		require.NoError(t, reg.Add(v.ID, tr))
	}

	d, err := Discretize(table, cat, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"PM25", "Region"}, d.Columns)
	assert.Equal(t, 5, d.Len())

	region, _ := d.Offset("Region")
	assert.Equal(t, 0, d.States[0][region])
	assert.Equal(t, 1, d.States[1][region])

	_, err = Discretize(table, cat, transform.NewRegistry())
	assert.ErrorIs(t, err, core.ErrUnknownVariable)

	noColumn, err := dataset.NewTable([]string{"County", "Region"}, [][]string{{"a", "north"}})
	require.NoError(t, err)
	_, err = Discretize(noColumn, cat, reg)
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func argmax(row []float64) int {
	best := 0
	for i, p := range row {
		if p > row[best] {
			best = i
		}
	}
	return best
}
