package transform

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformSample(seed int64, n int, lo, hi float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + rng.Float64()*(hi-lo)
	}
	return out
}

func TestFitContinuous_BinInvariants(t *testing.T) {
	for _, n := range []int{5, 20, 58, 200, 5000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			c, err := FitContinuous("Ozone", uniformSample(int64(n), n, 10, 90))
			require.NoError(t, err)

			assert.GreaterOrEqual(t, c.Cardinality(), minBins)
			assert.LessOrEqual(t, c.Cardinality(), maxBins)
			assert.Len(t, c.Edges, c.Cardinality()-1)
			assert.True(t, strictlyIncreasing(c.Edges), "edges %v", c.Edges)
			assert.NotZero(t, c.IQR)
		})
	}
}

func TestFitContinuous_FreedmanDiaconisCount(t *testing.T) {
	// 1..1000 evenly spaced: scaled IQR is 1, range ~2, h = 2/10 -> 10 bins
	sample := make([]float64, 1000)
	for i := range sample {
		sample[i] = float64(i + 1)
	}
	c, err := FitContinuous("Traffic", sample)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Cardinality())
	assert.Equal(t, StrategyQuantile, c.Strategy)

	// Five points: range/h = 1.6/(2*5^(-1/3)) ~ 1.4, clamped up to 3
	c, err = FitContinuous("Traffic", []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Cardinality())
}

func TestContinuous_RoundTripWithinHalfBin(t *testing.T) {
	sample := uniformSample(7, 300, 0, 100)
	c, err := FitContinuous("PM2.5", sample)
	require.NoError(t, err)

	for _, v := range sample {
		state, err := Encode(c, Number(v))
		require.NoError(t, err)

		decoded, ok := Decode(c, state).AsNumber()
		require.True(t, ok)

		lo, hi, ok := c.BinBounds(state)
		require.True(t, ok)
		assert.LessOrEqual(t, math.Abs(decoded-v), (hi-lo)/2+1e-9,
			"value %.4f state %d decoded %.4f bin [%.4f, %.4f]", v, state, decoded, lo, hi)
	}
}

func TestContinuous_ClampsBeyondEdges(t *testing.T) {
	c, err := FitContinuous("Diesel", uniformSample(3, 100, 20, 80))
	require.NoError(t, err)

	low, _ := Encode(c, Number(-1e9))
	high, _ := Encode(c, Number(1e9))
	assert.Equal(t, 0, low)
	assert.Equal(t, c.Cardinality()-1, high)
}

func TestContinuous_EncodePolicies(t *testing.T) {
	c, err := FitContinuous("Pesticides", uniformSample(11, 100, 0, 50))
	require.NoError(t, err)

	fillState, _ := Encode(c, Number(c.Fill))

	nan, _ := Encode(c, Number(math.NaN()))
	assert.Equal(t, fillState, nan, "NaN encodes as the fill value")

	parsed, _ := Encode(c, Label("49.9"))
	direct, _ := Encode(c, Number(49.9))
	assert.Equal(t, direct, parsed)

	junk, _ := Encode(c, Label("lots"))
	assert.Equal(t, 0, junk, "unparseable labels fall back to state 0")

	assert.True(t, Decode(c, -1).IsUnknown())
	assert.True(t, Decode(c, c.Cardinality()).IsUnknown())
}

func TestFitContinuous_MissingValuesAndOutliers(t *testing.T) {
	sample := []float64{1, 2, 3, math.NaN(), 4, 5, 6, 7, 8, 1000}
	c, err := FitContinuous("ToxRelease", sample)
	require.NoError(t, err)

	assert.Equal(t, 5.0, c.Fill, "fill is the median of present values")
	assert.Less(t, c.UpperFence, 1000.0, "the outlier is outside the upper fence")
	assert.Equal(t, c.Locate(c.Scale(c.UpperFence)), c.Locate(c.Scale(1000)))
}

func TestFitContinuous_TiedQuantilesFallBackToUniform(t *testing.T) {
	sample := make([]float64, 0, 100)
	for i := 0; i < 80; i++ {
		sample = append(sample, 0)
	}
	for i := 1; i <= 20; i++ {
		sample = append(sample, float64(i))
	}
	c, err := FitContinuous("Cleanups", sample)
	require.NoError(t, err)

	assert.Equal(t, StrategyUniform, c.Strategy)
	assert.Equal(t, defaultBins, c.Cardinality())
	assert.True(t, strictlyIncreasing(c.Edges))
}

func TestFitContinuous_ConstantColumn(t *testing.T) {
	c, err := FitContinuous("Groundwater", []float64{4, 4, 4, 4, 4, 4})
	require.NoError(t, err)

	assert.Equal(t, StrategyDegenerate, c.Strategy)
	assert.Equal(t, defaultBins, c.Cardinality())

	state, _ := Encode(c, Number(4))
	assert.Equal(t, defaultBins/2, state)
	v, ok := Decode(c, state).AsNumber()
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-9)
}

func TestFitContinuous_NoValuesIsDataQualityError(t *testing.T) {
	_, err := FitContinuous("Empty", []float64{math.NaN(), math.NaN()})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDataQuality)

	_, err = FitContinuous("Empty", nil)
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func TestCategorical_RoundTripAndCollapse(t *testing.T) {
	// 40 samples: "Rare" appears once (2.5% < 5%) and collapses into Other
	var sample []string
	for i := 0; i < 20; i++ {
		sample = append(sample, "Coastal")
	}
	for i := 0; i < 15; i++ {
		sample = append(sample, "Inland")
	}
	for i := 0; i < 3; i++ {
		sample = append(sample, "Desert")
	}
	sample = append(sample, "Rare", "")

	c, err := FitCategorical("Region", sample)
	require.NoError(t, err)

	assert.Equal(t, []string{"Coastal", "Desert", "Inland", OtherLabel}, c.Labels())
	assert.Equal(t, "Coastal", c.Fill)

	for _, label := range c.Labels() {
		state, err := Encode(c, Label(label))
		require.NoError(t, err)
		assert.Equal(t, label, Decode(c, state).AsLabel())
	}

	rare, _ := Encode(c, Label("Rare"))
	assert.Equal(t, c.Mapping[OtherLabel], rare, "collapsed categories encode to Other")

	unseen, _ := Encode(c, Label("Lunar"))
	assert.Equal(t, 0, unseen, "unseen categories map to state 0")

	missing, _ := Encode(c, Label(""))
	assert.Equal(t, c.Mapping["Coastal"], missing)

	assert.True(t, Decode(c, 99).IsUnknown())
}

func TestCategorical_EmptyIsDataQualityError(t *testing.T) {
	_, err := FitCategorical("Region", []string{"", "  "})
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func TestNewCategorical_RejectsNonBijection(t *testing.T) {
	_, err := NewCategorical(map[string]int{"a": 0, "b": 0}, nil, "a")
	assert.Error(t, err)
	_, err = NewCategorical(map[string]int{"a": 0, "b": 2}, nil, "a")
	assert.Error(t, err)
	_, err = NewCategorical(map[string]int{}, nil, "")
	assert.Error(t, err)
}

func TestFitColumn_InfersKind(t *testing.T) {
	numeric, err := FitColumn(catalogue.Variable{ID: "Ozone", Kind: catalogue.KindAuto},
		[]string{"0.04", "0.05", "NA", "0.06", "0.07", "0.05"})
	require.NoError(t, err)
	assert.Equal(t, catalogue.KindContinuous, numeric.Kind())

	labels, err := FitColumn(catalogue.Variable{ID: "Region"}, []string{"north", "south", "north"})
	require.NoError(t, err)
	assert.Equal(t, catalogue.KindCategorical, labels.Kind())

	forced, err := FitColumn(catalogue.Variable{ID: "Code", Kind: catalogue.KindCategorical}, []string{"1", "2", "1"})
	require.NoError(t, err)
	state, _ := Encode(forced, Number(2))
	assert.Equal(t, "2", Decode(forced, state).AsLabel())
}

func TestRegistry_JSONPreservesBehaviour(t *testing.T) {
	cont, err := FitContinuous("Traffic", uniformSample(5, 120, 0, 2000))
	require.NoError(t, err)
	cat, err := FitCategorical("Region", []string{"a", "b", "a", "c", "b", "a"})
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Add("Traffic", cont))
	require.NoError(t, reg.Add("Region", cat))
	assert.Error(t, reg.Add("Traffic", cont))

	data, err := json.Marshal(reg)
	require.NoError(t, err)

	loaded := NewRegistry()
	require.NoError(t, json.Unmarshal(data, loaded))
	assert.Equal(t, []core.VariableKey{"Region", "Traffic"}, loaded.Keys())

	for _, v := range []float64{-5, 0, 350, 999, 1500, 4000} {
		want, _ := reg.Encode("Traffic", Number(v))
		got, err := loaded.Encode("Traffic", Number(v))
		require.NoError(t, err)
		assert.Equal(t, want, got, "value %v", v)
	}
	got, _ := loaded.Decode("Region", 2)
	assert.Equal(t, "c", got.AsLabel())

	_, err = loaded.Encode("Nope", Number(1))
	assert.ErrorIs(t, err, core.ErrUnknownVariable)
}

func TestRegistry_UnmarshalRejectsCorruptTransforms(t *testing.T) {
	bad := []string{
		`{"variables":{"A":{"kind":"continuous","continuous":{"iqr":1,"edges":[1,1]}}}}`,
		`{"variables":{"A":{"kind":"continuous","continuous":{"iqr":0,"edges":[1,2]}}}}`,
		`{"variables":{"A":{"kind":"ordinal"}}}`,
		`{"variables":{"A":{"kind":"categorical","categorical":{"mapping":{"x":1}}}}}`,
	}
	for _, doc := range bad {
		assert.Error(t, json.Unmarshal([]byte(doc), NewRegistry()), doc)
	}
}

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{"n": Number(1.5), "l": Label("Other"), "u": Unknown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1.5,"l":"Other","u":"UNKNOWN"}`, string(data))

	var back map[string]Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back["u"].IsUnknown())
	f, ok := back["n"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)
}
