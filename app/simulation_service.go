package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"time"

	"ecosim/domain/core"
	"ecosim/internal"
	"ecosim/internal/config"
	apperrors "ecosim/internal/errors"
	"ecosim/internal/inference"
	"ecosim/internal/metrics"
	"ecosim/internal/model"
	"ecosim/internal/transform"

	"golang.org/x/sync/errgroup"
)

// SimulationOptions controls how deltas become evidence and how impacts are queried
type SimulationOptions struct {
	Baseline     float64
	ClampMin     float64
	ClampMax     float64
	Concurrency  int
	QueryTimeout time.Duration // zero disables the per-query timeout
	Heuristic    inference.Heuristic
}

// DefaultSimulationOptions returns the 0-100 indicator scale with baseline 50
func DefaultSimulationOptions() SimulationOptions {
	return SimulationOptions{
		Baseline:    50,
		ClampMin:    0,
		ClampMax:    100,
		Concurrency: runtime.NumCPU(),
		Heuristic:   inference.MinDegree,
	}
}

// SimulationOptionsFromConfig maps validated configuration onto options
func SimulationOptionsFromConfig(cfg config.SimulationConfig) (SimulationOptions, error) {
	h, err := inference.ParseHeuristic(cfg.Elimination)
	if err != nil {
		return SimulationOptions{}, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	return SimulationOptions{
		Baseline:     cfg.Baseline,
		ClampMin:     cfg.ClampMin,
		ClampMax:     cfg.ClampMax,
		Concurrency:  cfg.Concurrency,
		QueryTimeout: cfg.QueryTimeout,
		Heuristic:    h,
	}, nil
}

// SimulationResult is the outcome of one what-if query. A nil impact means
// the query for that variable failed; Failures holds the reason.
type SimulationResult struct {
	Impacts  map[string]*transform.Value `json:"impacts"`
	Evidence map[string]int              `json:"evidence"`
	Warnings []string                    `json:"warnings,omitempty"`
	Failures map[string]string           `json:"failures,omitempty"`
}

// SimulationService answers "what if these pressures change" over one loaded
// model. It performs no I/O and is safe for concurrent use.
type SimulationService struct {
	model   *model.Model
	engine  *inference.Engine
	query   func(context.Context, inference.Evidence, core.VariableKey, ...inference.QueryOption) (*inference.Distribution, error)
	opts    SimulationOptions
	logger  *internal.Logger
	metrics *metrics.SimulationMetrics
}

// NewSimulationService validates the model and prepares its inference engine.
// logger and m may be nil.
func NewSimulationService(mdl *model.Model, opts SimulationOptions, logger *internal.Logger, m *metrics.SimulationMetrics) (*SimulationService, error) {
	if err := mdl.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.WithCode(apperrors.CodeModelMismatch, err), "model failed validation")
	}
	if opts.ClampMin > opts.ClampMax {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("clamp min %v exceeds clamp max %v", opts.ClampMin, opts.ClampMax))
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Heuristic == "" {
		opts.Heuristic = inference.MinDegree
	}
	engine, err := inference.NewEngine(mdl.Network, inference.WithHeuristic(opts.Heuristic))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create inference engine")
	}
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}

	return &SimulationService{
		model:   mdl,
		engine:  engine,
		query:   engine.Query,
		opts:    opts,
		logger:  logger.With("Simulation"),
		metrics: m,
	}, nil
}

// Model returns the loaded model
func (s *SimulationService) Model() *model.Model {
	return s.model
}

// Simulate applies deltas to the baseline, encodes them as evidence and
// predicts every impact variable. Keys may be variable IDs or source column
// names; unknown keys are skipped with a warning. Returns core.ErrEmptyEvidence
// when no key survives.
func (s *SimulationService) Simulate(ctx context.Context, deltas map[string]float64) (*SimulationResult, error) {
	evidence, named, warnings := s.evidence(deltas)
	if len(evidence) == 0 {
		s.metrics.RecordSimulation("empty_evidence")
		return nil, fmt.Errorf("%w: %d delta(s) given, none usable", core.ErrEmptyEvidence, len(deltas))
	}

	result, err := s.predict(ctx, evidence)
	if err != nil {
		s.metrics.RecordSimulation("error")
		return nil, err
	}
	result.Evidence = named
	result.Warnings = warnings

	if len(result.Failures) > 0 {
		s.metrics.RecordSimulation("partial")
	} else {
		s.metrics.RecordSimulation("ok")
	}
	return result, nil
}

// SimulateSteps applies deltas in steps equal increments and returns the
// result after each increment; the last step equals Simulate(deltas).
func (s *SimulationService) SimulateSteps(ctx context.Context, deltas map[string]float64, steps int) ([]*SimulationResult, error) {
	if steps < 1 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("steps must be at least 1, got %d", steps))
	}

	trajectory := make([]*SimulationResult, 0, steps)
	for k := 1; k <= steps; k++ {
		scaled := make(map[string]float64, len(deltas))
		for name, d := range deltas {
			scaled[name] = d * float64(k) / float64(steps)
		}
		result, err := s.Simulate(ctx, scaled)
		if err != nil {
			return nil, fmt.Errorf("step %d/%d: %w", k, steps, err)
		}
		trajectory = append(trajectory, result)
	}
	return trajectory, nil
}

// FeatureImportance returns each network variable's out-degree. This is a
// structural proxy, not a sensitivity measure.
func (s *SimulationService) FeatureImportance() map[string]int {
	out := make(map[string]int)
	for _, id := range s.model.Network.Nodes() {
		out[id.String()] = s.model.Network.OutDegree(id)
	}
	return out
}

// evidence resolves, clamps and encodes deltas. Keys are processed in sorted
// order so warnings are deterministic.
func (s *SimulationService) evidence(deltas map[string]float64) (inference.Evidence, map[string]int, []string) {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)

	evidence := make(inference.Evidence)
	named := make(map[string]int)
	var warnings []string
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		s.logger.Warn("%s", msg)
		warnings = append(warnings, msg)
	}

	for _, name := range names {
		delta := deltas[name]
		v, ok := s.model.Catalogue.Resolve(name)
		if !ok || !v.Tier.InNetwork() {
			s.metrics.RecordUnknownVariable()
			warn("unknown variable %q skipped", name)
			continue
		}
		if math.IsNaN(delta) || math.IsInf(delta, 0) {
			warn("non-finite delta for %q skipped", name)
			continue
		}
		if _, dup := evidence[v.ID]; dup {
			warn("%q names %s again; later key wins", name, v.ID)
		}

		value := math.Max(s.opts.ClampMin, math.Min(s.opts.ClampMax, s.opts.Baseline+delta))
		state, err := s.model.Registry.Encode(v.ID, transform.Number(value))
		if err != nil {
			warn("cannot encode %s=%v: %v", v.ID, value, err)
			continue
		}
		s.logger.Debug("%s: baseline %.2f + delta %.2f -> %.2f (state %d)", v.ID, s.opts.Baseline, delta, value, state)
		evidence[v.ID] = state
		named[v.ID.String()] = state
	}
	return evidence, named, warnings
}

// predict queries every impact variable under the evidence. Per-variable query
// failures become nil impacts; only caller cancellation aborts the call.
func (s *SimulationService) predict(ctx context.Context, evidence inference.Evidence) (*SimulationResult, error) {
	targets := s.model.Catalogue.Impact()
	values := make([]*transform.Value, len(targets))
	reasons := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			qctx := gctx
			if s.opts.QueryTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(gctx, s.opts.QueryTimeout)
				defer cancel()
			}

			start := time.Now()
			dist, err := s.query(qctx, evidence, target)
			s.metrics.ObserveQuery(target.String(), time.Since(start))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				reasons[i] = err
				return nil
			}

			decoded, err := s.model.Registry.Decode(target, dist.ArgMax())
			if err != nil {
				reasons[i] = err
				return nil
			}
			values[i] = &decoded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &SimulationResult{Impacts: make(map[string]*transform.Value, len(targets))}
	for i, target := range targets {
		result.Impacts[target.String()] = values[i]
		if reasons[i] == nil {
			continue
		}
		if result.Failures == nil {
			result.Failures = make(map[string]string)
		}
		result.Failures[target.String()] = reasons[i].Error()
		s.metrics.RecordImpactFailure(target.String())
		if errors.Is(reasons[i], context.DeadlineExceeded) || core.IsQueryError(reasons[i]) {
			s.logger.Warn("impact %s unavailable: %v", target, reasons[i])
		} else {
			s.logger.Error("impact %s failed: %v", target, reasons[i])
		}
	}
	return result, nil
}
