// Package inference answers marginal queries on a fitted network by exact
// variable elimination.
package inference

import (
	"context"
	"fmt"
	"math"

	"ecosim/domain/core"
	"ecosim/internal/network"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Evidence maps observed variables to state indices
type Evidence map[core.VariableKey]int

// Distribution is the posterior marginal of one variable
type Distribution struct {
	Variable core.VariableKey `json:"variable"`
	Probs    []float64        `json:"probs"`
}

// ArgMax returns the most probable state; ties go to the lowest index
func (d *Distribution) ArgMax() int {
	return floats.MaxIdx(d.Probs)
}

// Entropy returns the Shannon entropy in nats
func (d *Distribution) Entropy() float64 {
	return stat.Entropy(d.Probs)
}

// Prob returns the probability of a state, zero when out of range
func (d *Distribution) Prob(state int) float64 {
	if state < 0 || state >= len(d.Probs) {
		return 0
	}
	return d.Probs[state]
}

type queryConfig struct {
	heuristic Heuristic
	order     []core.VariableKey
}

// QueryOption customises one query
type QueryOption func(*queryConfig)

// WithHeuristic selects the elimination ordering heuristic
func WithHeuristic(h Heuristic) QueryOption {
	return func(c *queryConfig) { c.heuristic = h }
}

// WithOrder fixes the elimination order. Variables that are not hidden in the
// query are ignored; hidden variables missing from order are appended by the
// heuristic.
func WithOrder(order ...core.VariableKey) QueryOption {
	return func(c *queryConfig) { c.order = order }
}

// Engine runs queries over a fitted network. It holds no per-query state and
// is safe for concurrent use.
type Engine struct {
	net       *network.Network
	heuristic Heuristic
}

// NewEngine creates an engine; the network must be fully fitted
func NewEngine(net *network.Network, opts ...QueryOption) (*Engine, error) {
	if net == nil || !net.Fitted() {
		return nil, fmt.Errorf("network has no fitted parameters")
	}
	cfg := queryConfig{heuristic: MinDegree}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{net: net, heuristic: cfg.heuristic}, nil
}

// Network returns the engine's network
func (e *Engine) Network() *network.Network {
	return e.net
}

// Query returns P(target | evidence)
func (e *Engine) Query(ctx context.Context, evidence Evidence, target core.VariableKey, opts ...QueryOption) (*Distribution, error) {
	cfg := queryConfig{heuristic: e.heuristic}
	for _, opt := range opts {
		opt(&cfg)
	}

	targetCard, ok := e.net.Cardinality(target)
	if !ok {
		return nil, core.NewUnknownVariableError(target)
	}
	for v, s := range evidence {
		card, ok := e.net.Cardinality(v)
		if !ok {
			return nil, core.NewUnknownVariableError(v)
		}
		if s < 0 || s >= card {
			return nil, core.NewInvalidEvidenceError(v, s, card)
		}
	}

	if s, observed := evidence[target]; observed {
		probs := make([]float64, targetCard)
		probs[s] = 1
		return &Distribution{Variable: target, Probs: probs}, nil
	}

	relevant := e.relevant(evidence, target)

	factors := make([]*factor, 0, len(relevant))
	var hidden []core.VariableKey
	for _, id := range relevant {
		cpt, _ := e.net.CPT(id)
		f, err := fromCPT(cpt, evidence)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
		if _, observed := evidence[id]; !observed && id != target {
			hidden = append(hidden, id)
		}
	}

	for _, v := range e.order(cfg, factors, hidden) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		factors, err = eliminateVar(factors, v)
		if err != nil {
			return nil, err
		}
	}

	result := factors[0]
	for _, f := range factors[1:] {
		var err error
		if result, err = product(result, f); err != nil {
			return nil, err
		}
	}
	if len(result.vars) != 1 || result.vars[0] != target {
		return nil, fmt.Errorf("elimination left scope %v, want [%s]", result.vars, target)
	}

	mass := floats.Sum(result.values)
	if mass <= 0 || math.IsNaN(mass) || math.IsInf(mass, 0) {
		return nil, core.NewDegenerateQueryError(target, mass)
	}
	probs := append([]float64(nil), result.values...)
	floats.Scale(1/mass, probs)
	return &Distribution{Variable: target, Probs: probs}, nil
}

// relevant returns the target, the observed variables and all their
// ancestors in topological order. Every other node is barren: summing it out
// contributes a factor of one.
func (e *Engine) relevant(evidence Evidence, target core.VariableKey) []core.VariableKey {
	keep := map[core.VariableKey]bool{target: true}
	stack := []core.VariableKey{target}
	for v := range evidence {
		if !keep[v] {
			keep[v] = true
			stack = append(stack, v)
		}
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range e.net.Parents(v) {
			if !keep[p] {
				keep[p] = true
				stack = append(stack, p)
			}
		}
	}

	var out []core.VariableKey
	for _, id := range e.net.Nodes() {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) order(cfg queryConfig, factors []*factor, hidden []core.VariableKey) []core.VariableKey {
	if len(cfg.order) == 0 {
		return eliminationOrder(cfg.heuristic, factors, hidden)
	}

	isHidden := make(map[core.VariableKey]bool, len(hidden))
	for _, v := range hidden {
		isHidden[v] = true
	}
	var order []core.VariableKey
	for _, v := range cfg.order {
		if isHidden[v] {
			order = append(order, v)
			delete(isHidden, v)
		}
	}
	if len(isHidden) == 0 {
		return order
	}

	// Continue with the heuristic on what the explicit order left out
	var rest []core.VariableKey
	for _, v := range hidden {
		if isHidden[v] {
			rest = append(rest, v)
		}
	}
	return append(order, eliminationOrder(cfg.heuristic, factors, rest)...)
}

// eliminateVar multiplies every factor mentioning v and sums v out
func eliminateVar(factors []*factor, v core.VariableKey) ([]*factor, error) {
	var joint *factor
	kept := factors[:0:0]
	for _, f := range factors {
		if !f.has(v) {
			kept = append(kept, f)
			continue
		}
		if joint == nil {
			joint = f
			continue
		}
		var err error
		if joint, err = product(joint, f); err != nil {
			return nil, err
		}
	}
	if joint == nil {
		return factors, nil
	}
	return append(kept, sumOut(joint, v)), nil
}
