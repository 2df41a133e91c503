package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
)

// Registry holds one transform per variable. It is read-only once a model is loaded.
type Registry struct {
	transforms map[core.VariableKey]Transform
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[core.VariableKey]Transform)}
}

// Add registers a transform; a variable owns exactly one
func (r *Registry) Add(id core.VariableKey, t Transform) error {
	if t == nil {
		return fmt.Errorf("nil transform for %s", id)
	}
	if _, exists := r.transforms[id]; exists {
		return fmt.Errorf("transform for %s already registered", id)
	}
	r.transforms[id] = t
	return nil
}

// Get returns the transform of a variable
func (r *Registry) Get(id core.VariableKey) (Transform, bool) {
	t, ok := r.transforms[id]
	return t, ok
}

// Has reports whether a variable has a transform
func (r *Registry) Has(id core.VariableKey) bool {
	_, ok := r.transforms[id]
	return ok
}

// Keys returns the registered variables, sorted
func (r *Registry) Keys() []core.VariableKey {
	keys := make([]core.VariableKey, 0, len(r.transforms))
	for k := range r.transforms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of registered transforms
func (r *Registry) Len() int {
	return len(r.transforms)
}

// Cardinality returns the number of states of a variable
func (r *Registry) Cardinality(id core.VariableKey) (int, bool) {
	t, ok := r.transforms[id]
	if !ok {
		return 0, false
	}
	return t.Cardinality(), true
}

// Encode maps a value of a variable to its state
func (r *Registry) Encode(id core.VariableKey, v Value) (int, error) {
	t, ok := r.transforms[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrTransformMissing, id)
	}
	return Encode(t, v)
}

// Decode maps a state of a variable to a value
func (r *Registry) Decode(id core.VariableKey, state int) (Value, error) {
	t, ok := r.transforms[id]
	if !ok {
		return Unknown, fmt.Errorf("%w: %s", core.ErrTransformMissing, id)
	}
	return Decode(t, state), nil
}

// FitColumn fits the transform of one catalogue variable from raw cells.
// KindAuto resolves to continuous when any cell parses as a number.
func FitColumn(v catalogue.Variable, cells []string) (Transform, error) {
	kind := v.Kind
	if kind == catalogue.KindAuto || kind == "" {
		kind = InferKind(cells)
	}

	switch kind {
	case catalogue.KindContinuous:
		sample := make([]float64, len(cells))
		for i, cell := range cells {
			if x, ok := dataset.ParseNumber(cell); ok {
				sample[i] = x
			} else {
				sample[i] = math.NaN()
			}
		}
		return FitContinuous(v.ID, sample)
	case catalogue.KindCategorical:
		return FitCategorical(v.ID, cells)
	default:
		return nil, fmt.Errorf("variable %s has unknown kind %q", v.ID, kind)
	}
}

// InferKind mirrors numeric coercion: one parseable cell makes a column numeric
func InferKind(cells []string) catalogue.Kind {
	for _, cell := range cells {
		if _, ok := dataset.ParseNumber(cell); ok {
			return catalogue.KindContinuous
		}
	}
	return catalogue.KindCategorical
}

type envelope struct {
	Kind        catalogue.Kind `json:"kind"`
	Continuous  *Continuous    `json:"continuous,omitempty"`
	Categorical *Categorical   `json:"categorical,omitempty"`
}

// MarshalJSON writes {"variables": {id: {"kind": ..., "<kind>": {...}}}}
func (r *Registry) MarshalJSON() ([]byte, error) {
	out := make(map[core.VariableKey]envelope, len(r.transforms))
	for id, t := range r.transforms {
		switch tr := t.(type) {
		case *Continuous:
			out[id] = envelope{Kind: catalogue.KindContinuous, Continuous: tr}
		case *Categorical:
			out[id] = envelope{Kind: catalogue.KindCategorical, Categorical: tr}
		default:
			return nil, fmt.Errorf("unsupported transform %T for %s", t, id)
		}
	}
	return json.Marshal(struct {
		Variables map[core.VariableKey]envelope `json:"variables"`
	}{out})
}

// UnmarshalJSON reads the envelope format and validates every transform
func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Variables map[core.VariableKey]envelope `json:"variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.transforms = make(map[core.VariableKey]Transform, len(raw.Variables))
	for id, env := range raw.Variables {
		switch env.Kind {
		case catalogue.KindContinuous:
			if env.Continuous == nil {
				return fmt.Errorf("transform %s: missing continuous body", id)
			}
			if err := env.Continuous.validate(); err != nil {
				return fmt.Errorf("transform %s: %w", id, err)
			}
			r.transforms[id] = env.Continuous
		case catalogue.KindCategorical:
			if env.Categorical == nil {
				return fmt.Errorf("transform %s: missing categorical body", id)
			}
			r.transforms[id] = env.Categorical
		default:
			return fmt.Errorf("transform %s: unknown kind %q", id, env.Kind)
		}
	}
	return nil
}

func (c *Continuous) validate() error {
	if n := c.Cardinality(); n < minBins || n > maxBins {
		return fmt.Errorf("bin count %d outside [%d,%d]", n, minBins, maxBins)
	}
	if !strictlyIncreasing(c.Edges) {
		return fmt.Errorf("bin edges are not strictly increasing")
	}
	if c.IQR == 0 || math.IsNaN(c.IQR) {
		return fmt.Errorf("scale must be non-zero")
	}
	return nil
}
