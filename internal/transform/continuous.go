package transform

import (
	"math"
	"sort"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

const (
	minBins     = 3
	maxBins     = 10
	defaultBins = 5
	fenceFactor = 1.5
)

// BinStrategy records how the bin edges of a continuous transform were placed
type BinStrategy string

const (
	// StrategyQuantile places edges at equal-frequency quantiles of the scaled sample
	StrategyQuantile BinStrategy = "quantile"
	// StrategyUniform is used when ties collapse quantile edges
	StrategyUniform BinStrategy = "uniform"
	// StrategyDegenerate is used for constant columns: unit-spaced edges around the constant
	StrategyDegenerate BinStrategy = "degenerate"
)

// Continuous discretizes a numeric variable.
//
// Values are clipped to the IQR fences, robust-scaled by (x - Median) / IQR and
// binned by Edges, which live in scaled space. Min and Max are the scaled
// extremes of the training sample and bound the outer bins when decoding.
//
// Encode policy: NaN encodes as Fill; labels that do not parse as numbers
// encode to state 0; values beyond the outermost edges clamp to the first or
// last bin.
type Continuous struct {
	Median     float64     `json:"median"`
	IQR        float64     `json:"iqr"`
	LowerFence float64     `json:"lower_fence"`
	UpperFence float64     `json:"upper_fence"`
	Min        float64     `json:"min"`
	Max        float64     `json:"max"`
	Edges      []float64   `json:"edges"`
	Strategy   BinStrategy `json:"strategy"`
	Fill       float64     `json:"fill"`
}

func (c *Continuous) Kind() catalogue.Kind { return catalogue.KindContinuous }
func (c *Continuous) Cardinality() int     { return len(c.Edges) + 1 }
func (c *Continuous) isTransform()         {}

// FitContinuous fits a continuous transform. NaN entries are missing values.
func FitContinuous(name core.VariableKey, sample []float64) (*Continuous, error) {
	present := make([]float64, 0, len(sample))
	for _, x := range sample {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			present = append(present, x)
		}
	}
	if len(present) == 0 {
		return nil, core.NewDataQualityError(name, "no non-missing numeric values")
	}

	// Missing values take the median before any other statistic is computed
	fill, err := stats.Median(present)
	if err != nil {
		return nil, core.NewDataQualityError(name, err.Error())
	}
	data := make([]float64, len(sample))
	for i, x := range sample {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			data[i] = fill
		} else {
			data[i] = x
		}
	}

	q1, q3 := quartiles(data)
	iqr := q3 - q1
	if iqr == 0 {
		sd, _ := stats.StandardDeviationPopulation(data)
		if sd > 0 {
			iqr = sd
		} else {
			iqr = 1
		}
	}
	lower, upper := q1-fenceFactor*iqr, q3+fenceFactor*iqr

	// Cap outliers instead of removing them
	clipped := make([]float64, len(data))
	for i, x := range data {
		clipped[i] = clamp(x, lower, upper)
	}

	median, _ := stats.Median(clipped)
	cq1, cq3 := quartiles(clipped)
	scale := cq3 - cq1
	if scale == 0 {
		scale = 1
	}

	scaled := make([]float64, len(clipped))
	for i, x := range clipped {
		scaled[i] = (x - median) / scale
	}
	sort.Float64s(scaled)

	bins := binCount(scaled)
	edges, strategy := binEdges(scaled, bins)

	return &Continuous{
		Median:     median,
		IQR:        scale,
		LowerFence: lower,
		UpperFence: upper,
		Min:        scaled[0],
		Max:        scaled[len(scaled)-1],
		Edges:      edges,
		Strategy:   strategy,
		Fill:       fill,
	}, nil
}

// quartiles returns Q1 and Q3 by linear interpolation
func quartiles(data []float64) (float64, float64) {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return stat.Quantile(0.25, stat.LinInterp, sorted, nil), stat.Quantile(0.75, stat.LinInterp, sorted, nil)
}

// binCount applies the Freedman-Diaconis rule to a sorted scaled sample
func binCount(sorted []float64) int {
	n := float64(len(sorted))
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	if iqr == 0 {
		return defaultBins
	}

	h := 2 * iqr / math.Cbrt(n)
	dataRange := sorted[len(sorted)-1] - sorted[0]
	if h == 0 || dataRange == 0 {
		return defaultBins
	}
	return int(clamp(math.Round(dataRange/h), minBins, maxBins))
}

// binEdges places bins-1 strictly increasing interior edges
func binEdges(sorted []float64, bins int) ([]float64, BinStrategy) {
	edges := make([]float64, bins-1)
	for k := 1; k < bins; k++ {
		edges[k-1] = stat.Quantile(float64(k)/float64(bins), stat.LinInterp, sorted, nil)
	}
	if strictlyIncreasing(edges) {
		return edges, StrategyQuantile
	}

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi > lo {
		width := (hi - lo) / float64(bins)
		for k := 1; k < bins; k++ {
			edges[k-1] = lo + float64(k)*width
		}
		return edges, StrategyUniform
	}

	// Constant column: every sample lands in the middle bin
	for k := 1; k < bins; k++ {
		edges[k-1] = lo + float64(k) - float64(bins)/2
	}
	return edges, StrategyDegenerate
}

func strictlyIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return false
		}
	}
	return true
}

// Scale maps a raw value into scaled space after clipping to the fences
func (c *Continuous) Scale(x float64) float64 {
	return (clamp(x, c.LowerFence, c.UpperFence) - c.Median) / c.IQR
}

// Unscale maps a scaled value back to raw units
func (c *Continuous) Unscale(s float64) float64 {
	return s*c.IQR + c.Median
}

func (c *Continuous) encode(v Value) int {
	var x float64
	switch v.Kind() {
	case ValueNumber:
		x, _ = v.AsNumber()
		if math.IsNaN(x) {
			x = c.Fill
		}
	case ValueLabel:
		parsed, ok := dataset.ParseNumber(v.AsLabel())
		if !ok {
			if v.AsLabel() == "" {
				x = c.Fill
				break
			}
			return 0
		}
		x = parsed
	default:
		x = c.Fill
	}
	return c.Locate(c.Scale(x))
}

// Locate returns the bin holding a scaled value; edges belong to the upper bin
func (c *Continuous) Locate(scaled float64) int {
	return sort.Search(len(c.Edges), func(i int) bool { return c.Edges[i] > scaled })
}

// BinBounds returns the raw-unit bounds of a state's bin
func (c *Continuous) BinBounds(state int) (lo, hi float64, ok bool) {
	if state < 0 || state >= c.Cardinality() {
		return 0, 0, false
	}
	last := len(c.Edges) - 1
	if state == 0 {
		lo = math.Min(c.Min, c.Edges[0])
	} else {
		lo = c.Edges[state-1]
	}
	if state == last+1 {
		hi = math.Max(c.Max, c.Edges[last])
	} else {
		hi = c.Edges[state]
	}
	return c.Unscale(lo), c.Unscale(hi), true
}

func (c *Continuous) decode(state int) Value {
	lo, hi, ok := c.BinBounds(state)
	if !ok {
		return Unknown
	}
	return Number((lo + hi) / 2)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
