package network

import (
	"fmt"
	"math"

	"ecosim/domain/core"
)

const rowTolerance = 1e-6

// CPT is the conditional probability table of one node.
//
// Parent configurations index rows in mixed radix with the last parent
// varying fastest. Only configurations seen in training store a row; every
// other configuration shares Default, which is uniform under BDeu smoothing.
type CPT struct {
	Variable    core.VariableKey   `json:"variable"`
	Cardinality int                `json:"cardinality"`
	Parents     []core.VariableKey `json:"parents"`
	ParentCards []int              `json:"parent_cardinalities"`
	Rows        map[int][]float64  `json:"rows"`
	Default     []float64          `json:"default"`
}

// Configurations returns the number of parent configurations (1 for a root)
func (c *CPT) Configurations() int {
	q := 1
	for _, card := range c.ParentCards {
		q *= card
	}
	return q
}

// ConfigIndex maps parent states, in parent order, to a configuration index
func (c *CPT) ConfigIndex(parentStates []int) int {
	idx := 0
	for i, s := range parentStates {
		idx = idx*c.ParentCards[i] + s
	}
	return idx
}

// Row returns the distribution over the node's states for one configuration
func (c *CPT) Row(config int) []float64 {
	if row, ok := c.Rows[config]; ok {
		return row
	}
	return c.Default
}

// Prob returns P(state | parents)
func (c *CPT) Prob(state int, parentStates []int) float64 {
	return c.Row(c.ConfigIndex(parentStates))[state]
}

// Validate checks shapes and that every row is a distribution
func (c *CPT) Validate() error {
	if c.Cardinality < 1 {
		return fmt.Errorf("cpt %s has cardinality %d", c.Variable, c.Cardinality)
	}
	if len(c.ParentCards) != len(c.Parents) {
		return fmt.Errorf("cpt %s has %d parents but %d parent cardinalities", c.Variable, len(c.Parents), len(c.ParentCards))
	}
	for i, card := range c.ParentCards {
		if card < 1 {
			return fmt.Errorf("cpt %s parent %s has cardinality %d", c.Variable, c.Parents[i], card)
		}
	}
	if err := c.checkRow("default", c.Default); err != nil {
		return err
	}
	q := c.Configurations()
	for config, row := range c.Rows {
		if config < 0 || config >= q {
			return fmt.Errorf("cpt %s row %d outside [0,%d)", c.Variable, config, q)
		}
		if err := c.checkRow(fmt.Sprintf("row %d", config), row); err != nil {
			return err
		}
	}
	return nil
}

func (c *CPT) checkRow(name string, row []float64) error {
	if len(row) != c.Cardinality {
		return fmt.Errorf("cpt %s %s has %d entries, want %d", c.Variable, name, len(row), c.Cardinality)
	}
	total := 0.0
	for _, p := range row {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("cpt %s %s has invalid probability %v", c.Variable, name, p)
		}
		total += p
	}
	if math.Abs(total-1) > rowTolerance {
		return fmt.Errorf("cpt %s %s sums to %v", c.Variable, name, total)
	}
	return nil
}

// Uniform returns a uniform row over k states
func Uniform(k int) []float64 {
	row := make([]float64, k)
	for i := range row {
		row[i] = 1 / float64(k)
	}
	return row
}
