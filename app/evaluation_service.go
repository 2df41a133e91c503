package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"

	"ecosim/domain/catalogue"
	"ecosim/domain/dataset"
	"ecosim/internal"
	apperrors "ecosim/internal/errors"
	"ecosim/internal/estimator"
	"ecosim/internal/inference"
	"ecosim/internal/model"
	"ecosim/internal/transform"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Direction of an impact relative to the zero-delta reference
type Direction string

const (
	DirectionIncrease  Direction = "increase"
	DirectionDecrease  Direction = "decrease"
	DirectionUnchanged Direction = "unchanged"
	DirectionChanged   Direction = "changed" // categorical impacts have no order
)

// FoldScore holds the held-out error of one cross-validation fold
type FoldScore struct {
	Fold  int                `json:"fold"`
	Train int                `json:"train"`
	Test  int                `json:"test"`
	MSE   map[string]float64 `json:"mse"`
	R2    map[string]float64 `json:"r2,omitempty"`
}

// AccuracyReport summarises k-fold cross-validation. Variables whose R^2 is
// undefined (constant held-out values) are omitted from R2 maps.
type AccuracyReport struct {
	Folds   []FoldScore        `json:"folds"`
	MeanMSE map[string]float64 `json:"mean_mse"`
	MeanR2  map[string]float64 `json:"mean_r2"`
}

// ConsistencyCase is a scenario with the impact directions it should produce
type ConsistencyCase struct {
	Name     string               `json:"name" yaml:"name"`
	Deltas   map[string]float64   `json:"deltas" yaml:"deltas"`
	Expected map[string]Direction `json:"expected" yaml:"expected"`
}

// ConsistencyCheck is one (case, impact) comparison
type ConsistencyCheck struct {
	Case       string    `json:"case"`
	Variable   string    `json:"variable"`
	Expected   Direction `json:"expected"`
	Observed   Direction `json:"observed"`
	Consistent bool      `json:"consistent"`
}

// ConsistencyReport lists every check and the consistent fraction
type ConsistencyReport struct {
	Checks []ConsistencyCheck `json:"checks"`
	Score  float64            `json:"score"`
}

// ImpactSpread describes predictions of one impact under noisy deltas
type ImpactSpread struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Samples  int     `json:"samples"`
}

// UncertaintyReport holds the spread of every impact for one scenario
type UncertaintyReport struct {
	Scenario map[string]float64      `json:"scenario"`
	Impacts  map[string]ImpactSpread `json:"impacts"`
}

// EvaluationService measures how well a trained model predicts held-out
// counties, whether it follows expected causal directions, and how sensitive
// its predictions are to input noise.
type EvaluationService struct {
	sim    *SimulationService
	ess    float64
	logger *internal.Logger
}

// NewEvaluationService wraps a simulation service; ess is used when
// PredictiveAccuracy retrains per fold
func NewEvaluationService(sim *SimulationService, ess float64, logger *internal.Logger) *EvaluationService {
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}
	if ess <= 0 {
		ess = estimator.DefaultEquivalentSampleSize
	}
	return &EvaluationService{sim: sim, ess: ess, logger: logger.With("Evaluation")}
}

// PredictiveAccuracy runs shuffled k-fold cross-validation: each fold
// retrains transforms and CPTs on the other folds, then predicts the impacts
// of its held-out rows from their pressure and state cells.
func (s *EvaluationService) PredictiveAccuracy(ctx context.Context, table *dataset.Table, folds int, seed int64) (*AccuracyReport, error) {
	n := table.Len()
	if folds < 2 || folds > n {
		return nil, apperrors.InvalidInput(fmt.Sprintf("folds must be in [2,%d], got %d", n, folds))
	}
	cat := s.sim.Model().Catalogue

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	scores := make([]FoldScore, folds)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sim.opts.Concurrency)
	for f := 0; f < folds; f++ {
		f := f
		g.Go(func() error {
			var train, test []int
			for i, row := range perm {
				if i%folds == f {
					test = append(test, row)
				} else {
					train = append(train, row)
				}
			}
			score, err := s.scoreFold(gctx, table, cat, train, test)
			if err != nil {
				return fmt.Errorf("fold %d: %w", f+1, err)
			}
			score.Fold = f + 1
			scores[f] = *score
			s.logger.Info("fold %d/%d: %d train, %d test", f+1, folds, len(train), len(test))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &AccuracyReport{
		Folds:   scores,
		MeanMSE: make(map[string]float64),
		MeanR2:  make(map[string]float64),
	}
	for _, id := range cat.Impact() {
		var mses, r2s []float64
		for _, sc := range scores {
			if v, ok := sc.MSE[id.String()]; ok {
				mses = append(mses, v)
			}
			if v, ok := sc.R2[id.String()]; ok {
				r2s = append(r2s, v)
			}
		}
		if m, err := stats.Mean(mses); err == nil {
			report.MeanMSE[id.String()] = m
		}
		if m, err := stats.Mean(r2s); err == nil {
			report.MeanR2[id.String()] = m
		}
	}
	return report, nil
}

func (s *EvaluationService) scoreFold(ctx context.Context, table *dataset.Table, cat catalogue.Catalogue, train, test []int) (*FoldScore, error) {
	mdl, _, err := model.Train(table.Subset(train), cat, estimator.Options{EquivalentSampleSize: s.ess})
	if err != nil {
		return nil, err
	}
	foldSim, err := NewSimulationService(mdl, s.sim.opts, nil, nil)
	if err != nil {
		return nil, err
	}

	held := table.Subset(test)
	evidenceVars := append(cat.Tier(catalogue.TierPressure), cat.Tier(catalogue.TierState)...)
	predicted := make(map[string][]float64)
	actual := make(map[string][]float64)

	for r := 0; r < held.Len(); r++ {
		evidence := make(inference.Evidence, len(evidenceVars))
		for _, id := range evidenceVars {
			v, _ := cat.Lookup(id)
			cells, err := held.Column(v.SourceColumn())
			if err != nil {
				return nil, err
			}
			state, err := mdl.Registry.Encode(id, transform.Label(cells[r]))
			if err != nil {
				return nil, err
			}
			evidence[id] = state
		}

		result, err := foldSim.predict(ctx, evidence)
		if err != nil {
			return nil, err
		}
		for _, id := range cat.Impact() {
			v, _ := cat.Lookup(id)
			cells, err := held.Column(v.SourceColumn())
			if err != nil {
				return nil, err
			}
			truth, ok := dataset.ParseNumber(cells[r])
			if !ok {
				continue
			}
			impact := result.Impacts[id.String()]
			if impact == nil {
				continue
			}
			guess, ok := impact.AsNumber()
			if !ok {
				continue
			}
			predicted[id.String()] = append(predicted[id.String()], guess)
			actual[id.String()] = append(actual[id.String()], truth)
		}
	}

	score := &FoldScore{Train: len(train), Test: len(test), MSE: make(map[string]float64), R2: make(map[string]float64)}
	for name, guesses := range predicted {
		truths := actual[name]
		sq := 0.0
		for i := range guesses {
			d := guesses[i] - truths[i]
			sq += d * d
		}
		score.MSE[name] = sq / float64(len(guesses))
		if r2 := stat.RSquaredFrom(guesses, truths, nil); !math.IsNaN(r2) && !math.IsInf(r2, 0) {
			score.R2[name] = r2
		}
	}
	return score, nil
}

// CausalConsistency simulates each case and compares every expected impact
// with the same keys at zero delta
func (s *EvaluationService) CausalConsistency(ctx context.Context, cases []ConsistencyCase) (*ConsistencyReport, error) {
	report := &ConsistencyReport{}
	for _, c := range cases {
		reference := make(map[string]float64, len(c.Deltas))
		for name := range c.Deltas {
			reference[name] = 0
		}
		base, err := s.sim.Simulate(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("case %q reference: %w", c.Name, err)
		}
		moved, err := s.sim.Simulate(ctx, c.Deltas)
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", c.Name, err)
		}

		vars := make([]string, 0, len(c.Expected))
		for name := range c.Expected {
			vars = append(vars, name)
		}
		sort.Strings(vars)
		for _, name := range vars {
			v, ok := s.sim.Model().Catalogue.Resolve(name)
			if !ok {
				return nil, apperrors.InvalidInput(fmt.Sprintf("case %q expects unknown variable %q", c.Name, name))
			}
			observed := direction(base.Impacts[v.ID.String()], moved.Impacts[v.ID.String()])
			check := ConsistencyCheck{
				Case:       c.Name,
				Variable:   v.ID.String(),
				Expected:   c.Expected[name],
				Observed:   observed,
				Consistent: observed == c.Expected[name],
			}
			report.Checks = append(report.Checks, check)
		}
	}

	if len(report.Checks) > 0 {
		consistent := 0
		for _, c := range report.Checks {
			if c.Consistent {
				consistent++
			}
		}
		report.Score = float64(consistent) / float64(len(report.Checks))
	}
	return report, nil
}

func direction(before, after *transform.Value) Direction {
	if before == nil || after == nil {
		return DirectionUnchanged
	}
	b, okB := before.AsNumber()
	a, okA := after.AsNumber()
	switch {
	case okA && okB && a > b:
		return DirectionIncrease
	case okA && okB && a < b:
		return DirectionDecrease
	case okA && okB:
		return DirectionUnchanged
	case before.AsLabel() != after.AsLabel():
		return DirectionChanged
	default:
		return DirectionUnchanged
	}
}

// Uncertainty perturbs every delta of each scenario with N(0, sigma) noise and
// reports the mean and population variance of each numeric impact
func (s *EvaluationService) Uncertainty(ctx context.Context, scenarios []map[string]float64, samples int, sigma float64, seed int64) ([]UncertaintyReport, error) {
	if samples < 2 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("samples must be at least 2, got %d", samples))
	}
	if sigma <= 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("sigma must be positive, got %v", sigma))
	}

	rng := rand.New(rand.NewSource(seed))
	noise := distuv.Normal{Mu: 0, Sigma: sigma}
	draw := func() float64 {
		u := math.Min(math.Max(rng.Float64(), 1e-12), 1-1e-12)
		return noise.Quantile(u)
	}

	reports := make([]UncertaintyReport, 0, len(scenarios))
	for _, scenario := range scenarios {
		names := make([]string, 0, len(scenario))
		for name := range scenario {
			names = append(names, name)
		}
		sort.Strings(names)

		predictions := make(map[string][]float64)
		for i := 0; i < samples; i++ {
			noisy := make(map[string]float64, len(scenario))
			for _, name := range names {
				noisy[name] = scenario[name] + draw()
			}
			result, err := s.sim.Simulate(ctx, noisy)
			if err != nil {
				return nil, err
			}
			for name, v := range result.Impacts {
				if v == nil {
					continue
				}
				if x, ok := v.AsNumber(); ok {
					predictions[name] = append(predictions[name], x)
				}
			}
		}

		report := UncertaintyReport{Scenario: scenario, Impacts: make(map[string]ImpactSpread)}
		for name, xs := range predictions {
			mean, _ := stats.Mean(xs)
			variance, _ := stats.PopulationVariance(xs)
			report.Impacts[name] = ImpactSpread{Mean: mean, Variance: variance, Samples: len(xs)}
		}
		reports = append(reports, report)
	}
	return reports, nil
}
