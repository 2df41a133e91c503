package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ecosim/domain/core"
	"ecosim/internal/config"
	apperrors "ecosim/internal/errors"
	"ecosim/internal/inference"
	"ecosim/internal/metrics"
	"ecosim/internal/testkit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioDeltas = map[string]float64{"PollutionBurdenScore": -20, "Traffic": -15}

func newScenarioService(t *testing.T, m *metrics.SimulationMetrics) *SimulationService {
	t.Helper()
	svc, err := NewSimulationService(testkit.TrainScenario(t), DefaultSimulationOptions(), nil, m)
	require.NoError(t, err)
	return svc
}

func TestSimulate_Scenario(t *testing.T) {
	svc := newScenarioService(t, nil)

	result, err := svc.Simulate(context.Background(), scenarioDeltas)
	require.NoError(t, err)

	require.Len(t, result.Impacts, len(testkit.ScenarioImpact))
	for _, name := range testkit.ScenarioImpact {
		impact, ok := result.Impacts[name]
		require.True(t, ok, "missing impact %s", name)
		require.NotNil(t, impact, "impact %s is null", name)
		_, numeric := impact.AsNumber()
		assert.True(t, numeric, "impact %s should decode to a number", name)
	}
	assert.Empty(t, result.Failures)
	assert.Empty(t, result.Warnings)
	assert.Len(t, result.Evidence, 2)

	importance := svc.FeatureImportance()
	assert.Equal(t, 0, importance["Asthma"])
	assert.Equal(t, len(testkit.ScenarioState)+len(testkit.ScenarioImpact), importance["PollutionBurdenScore"])
	assert.Equal(t, len(testkit.ScenarioImpact), importance["Ozone"])
}

func TestSimulate_Deterministic(t *testing.T) {
	svc := newScenarioService(t, nil)
	ctx := context.Background()

	first, err := svc.Simulate(ctx, scenarioDeltas)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Simulate(ctx, scenarioDeltas)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSimulate_ConcurrentCallers(t *testing.T) {
	svc := newScenarioService(t, nil)
	want, err := svc.Simulate(context.Background(), scenarioDeltas)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*SimulationResult, 8)
	errs := make([]error, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Simulate(context.Background(), scenarioDeltas)
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want.Impacts, results[i].Impacts)
	}
}

func TestSimulate_EmptyEvidence(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSimulationMetrics(reg)
	svc := newScenarioService(t, m)

	_, err := svc.Simulate(context.Background(), map[string]float64{})
	assert.ErrorIs(t, err, core.ErrEmptyEvidence)

	_, err = svc.Simulate(context.Background(), map[string]float64{"NotAVariable": 5, "County": 1})
	assert.ErrorIs(t, err, core.ErrEmptyEvidence)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SimulationsTotal.WithLabelValues("empty_evidence")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnknownVariables))
}

func TestSimulate_UnknownVariableWarns(t *testing.T) {
	svc := newScenarioService(t, nil)

	result, err := svc.Simulate(context.Background(), map[string]float64{"Traffic": 5, "Sunspots": 3})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Sunspots")
	assert.Equal(t, []string{"Traffic"}, keys(result.Evidence))
}

func TestSimulate_ColumnAlias(t *testing.T) {
	svc := newScenarioService(t, nil)

	byColumn, err := svc.Simulate(context.Background(), map[string]float64{"PM2.5": 10})
	require.NoError(t, err)
	byID, err := svc.Simulate(context.Background(), map[string]float64{"PM25": 10})
	require.NoError(t, err)

	assert.Contains(t, byColumn.Evidence, "PM25")
	assert.Equal(t, byID.Impacts, byColumn.Impacts)
}

func TestSimulate_ClampsToScale(t *testing.T) {
	svc := newScenarioService(t, nil)
	ctx := context.Background()

	huge, err := svc.Simulate(ctx, map[string]float64{"PollutionBurdenScore": 1e6})
	require.NoError(t, err)
	ceiling, err := svc.Simulate(ctx, map[string]float64{"PollutionBurdenScore": 50})
	require.NoError(t, err)
	assert.Equal(t, ceiling.Evidence, huge.Evidence)

	tiny, err := svc.Simulate(ctx, map[string]float64{"PollutionBurdenScore": -1e6})
	require.NoError(t, err)
	floor, err := svc.Simulate(ctx, map[string]float64{"PollutionBurdenScore": -50})
	require.NoError(t, err)
	assert.Equal(t, floor.Evidence, tiny.Evidence)
}

func TestSimulate_PartialFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSimulationMetrics(reg)
	svc := newScenarioService(t, m)

	query := svc.query
	svc.query = func(ctx context.Context, ev inference.Evidence, target core.VariableKey, opts ...inference.QueryOption) (*inference.Distribution, error) {
		if target == "Asthma" {
			return nil, core.NewDegenerateQueryError(target, 0)
		}
		return query(ctx, ev, target, opts...)
	}

	result, err := svc.Simulate(context.Background(), scenarioDeltas)
	require.NoError(t, err)

	assert.Nil(t, result.Impacts["Asthma"])
	assert.Contains(t, result.Failures["Asthma"], "degenerate")
	for _, name := range testkit.ScenarioImpact[1:] {
		assert.NotNil(t, result.Impacts[name], name)
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Asthma":null`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimulationsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImpactFailuresTotal.WithLabelValues("Asthma")))
}

func TestSimulate_QueryTimeoutIsPerImpact(t *testing.T) {
	svc := newScenarioService(t, nil)
	svc.opts.QueryTimeout = 10 * time.Millisecond

	query := svc.query
	svc.query = func(ctx context.Context, ev inference.Evidence, target core.VariableKey, opts ...inference.QueryOption) (*inference.Distribution, error) {
		if target == "ClimVulVertCount" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return query(ctx, ev, target, opts...)
	}

	result, err := svc.Simulate(context.Background(), scenarioDeltas)
	require.NoError(t, err)
	assert.Nil(t, result.Impacts["ClimVulVertCount"])
	assert.NotNil(t, result.Impacts["Asthma"])
}

func TestSimulate_CancelledContext(t *testing.T) {
	svc := newScenarioService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Simulate(ctx, scenarioDeltas)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulateSteps(t *testing.T) {
	svc := newScenarioService(t, nil)
	ctx := context.Background()

	trajectory, err := svc.SimulateSteps(ctx, scenarioDeltas, 4)
	require.NoError(t, err)
	require.Len(t, trajectory, 4)

	final, err := svc.Simulate(ctx, scenarioDeltas)
	require.NoError(t, err)
	assert.Equal(t, final, trajectory[3])

	_, err = svc.SimulateSteps(ctx, scenarioDeltas, 0)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	_, err = svc.SimulateSteps(ctx, map[string]float64{}, 3)
	assert.ErrorIs(t, err, core.ErrEmptyEvidence)
}

func TestNewSimulationService_RejectsBadOptions(t *testing.T) {
	opts := DefaultSimulationOptions()
	opts.ClampMin, opts.ClampMax = 10, 5
	_, err := NewSimulationService(testkit.TrainScenario(t), opts, nil, nil)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestSimulationOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Simulation
	cfg.Elimination = "min-fill"
	opts, err := SimulationOptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, inference.MinFill, opts.Heuristic)
	assert.Equal(t, 50.0, opts.Baseline)

	cfg.Elimination = "alphabetical"
	_, err = SimulationOptionsFromConfig(cfg)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

