// Package catalogue defines the tiered variable catalogue that fixes a model's
// causal roles. A catalogue is immutable once a model version has been trained.
package catalogue

import (
	"fmt"
	"strings"

	"ecosim/domain/core"
)

// Tier fixes a variable's causal role
type Tier string

const (
	TierPressure Tier = "pressure"
	TierState    Tier = "state"
	TierImpact   Tier = "impact"
	// Response and metadata variables are catalogued but never enter the network
	TierResponse Tier = "response"
	TierMetadata Tier = "metadata"
)

// Rank orders the network tiers; non-network tiers return -1
func (t Tier) Rank() int {
	switch t {
	case TierPressure:
		return 0
	case TierState:
		return 1
	case TierImpact:
		return 2
	default:
		return -1
	}
}

// InNetwork reports whether variables of this tier become network nodes
func (t Tier) InNetwork() bool {
	return t.Rank() >= 0
}

// NetworkTiers lists the network tiers in causal order
func NetworkTiers() []Tier {
	return []Tier{TierPressure, TierState, TierImpact}
}

// Kind selects the transform family of a variable
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindCategorical Kind = "categorical"
	// KindAuto lets training decide: numeric if any cell parses as a number
	KindAuto Kind = "auto"
)

// Variable is one catalogued measurement
type Variable struct {
	ID     core.VariableKey `json:"id" yaml:"id"`
	Column string           `json:"column,omitempty" yaml:"column,omitempty"` // source column in the training table
	Tier   Tier             `json:"tier" yaml:"tier"`
	Kind   Kind             `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// SourceColumn returns the training-table column, defaulting to the ID
func (v Variable) SourceColumn() string {
	if v.Column != "" {
		return v.Column
	}
	return v.ID.String()
}

// Catalogue is the ordered set of variables of one model version
type Catalogue struct {
	Variables []Variable `json:"variables" yaml:"variables"`
}

// New builds and validates a catalogue
func New(vars ...Variable) (Catalogue, error) {
	c := Catalogue{Variables: vars}
	if err := c.Validate(); err != nil {
		return Catalogue{}, err
	}
	return c, nil
}

// FromTiers builds a catalogue from three ordered ID lists, all kinds auto
func FromTiers(pressure, state, impact []string) (Catalogue, error) {
	var vars []Variable
	add := func(ids []string, tier Tier) {
		for _, id := range ids {
			vars = append(vars, Variable{ID: core.VariableKey(id), Tier: tier, Kind: KindAuto})
		}
	}
	add(pressure, TierPressure)
	add(state, TierState)
	add(impact, TierImpact)
	return New(vars...)
}

// Validate checks IDs, tiers and kinds
func (c Catalogue) Validate() error {
	seen := make(map[core.VariableKey]bool, len(c.Variables))
	columns := make(map[string]core.VariableKey, len(c.Variables))
	for i, v := range c.Variables {
		if strings.TrimSpace(v.ID.String()) == "" {
			return core.NewValidationError("catalogue", fmt.Sprintf("variable %d has an empty id", i))
		}
		if seen[v.ID] {
			return core.NewValidationError("catalogue", fmt.Sprintf("duplicate variable %s", v.ID))
		}
		seen[v.ID] = true

		if other, dup := columns[v.SourceColumn()]; dup {
			return core.NewValidationError("catalogue", fmt.Sprintf("variables %s and %s share column %q", other, v.ID, v.SourceColumn()))
		}
		columns[v.SourceColumn()] = v.ID

		switch v.Tier {
		case TierPressure, TierState, TierImpact, TierResponse, TierMetadata:
		default:
			return core.NewValidationError("catalogue", fmt.Sprintf("variable %s has unknown tier %q", v.ID, v.Tier))
		}
		switch v.Kind {
		case KindContinuous, KindCategorical, KindAuto, "":
		default:
			return core.NewValidationError("catalogue", fmt.Sprintf("variable %s has unknown kind %q", v.ID, v.Kind))
		}
	}
	return nil
}

// Tier returns the variable IDs of one tier in catalogue order
func (c Catalogue) Tier(t Tier) []core.VariableKey {
	var out []core.VariableKey
	for _, v := range c.Variables {
		if v.Tier == t {
			out = append(out, v.ID)
		}
	}
	return out
}

func (c Catalogue) Pressure() []core.VariableKey { return c.Tier(TierPressure) }
func (c Catalogue) State() []core.VariableKey    { return c.Tier(TierState) }
func (c Catalogue) Impact() []core.VariableKey   { return c.Tier(TierImpact) }

// NetworkVariables returns every variable of the three network tiers
func (c Catalogue) NetworkVariables() []Variable {
	var out []Variable
	for _, v := range c.Variables {
		if v.Tier.InNetwork() {
			out = append(out, v)
		}
	}
	return out
}

// Lookup finds a variable by ID
func (c Catalogue) Lookup(id core.VariableKey) (Variable, bool) {
	for _, v := range c.Variables {
		if v.ID == id {
			return v, true
		}
	}
	return Variable{}, false
}

// Resolve finds a variable by ID or, failing that, by source column name
func (c Catalogue) Resolve(name string) (Variable, bool) {
	if v, ok := c.Lookup(core.VariableKey(name)); ok {
		return v, true
	}
	for _, v := range c.Variables {
		if v.Column != "" && v.Column == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Without returns a copy of the catalogue with the given variables removed
func (c Catalogue) Without(ids ...core.VariableKey) Catalogue {
	drop := make(map[core.VariableKey]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := Catalogue{Variables: make([]Variable, 0, len(c.Variables))}
	for _, v := range c.Variables {
		if !drop[v.ID] {
			out.Variables = append(out.Variables, v)
		}
	}
	return out
}
