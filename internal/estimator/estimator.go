// Package estimator fits the CPTs of a tiered network from a discretised
// training table using BDeu smoothing.
package estimator

import (
	"fmt"
	"math"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
	"ecosim/internal/network"
	"ecosim/internal/transform"
)

// DefaultEquivalentSampleSize is the BDeu prior strength
const DefaultEquivalentSampleSize = 10.0

// maxConfigurations bounds the parent configuration space of one node
const maxConfigurations = 1 << 30

// Options configures a fit
type Options struct {
	EquivalentSampleSize float64
}

// DefaultOptions returns the BDeu defaults
func DefaultOptions() Options {
	return Options{EquivalentSampleSize: DefaultEquivalentSampleSize}
}

// NodeReport summarises the fitted table of one node
type NodeReport struct {
	Cardinality    int `json:"cardinality"`
	Parents        int `json:"parents"`
	Configurations int `json:"configurations"`
	Observed       int `json:"observed_configurations"`
}

// Report describes a completed fit
type Report struct {
	EquivalentSampleSize float64                         `json:"equivalent_sample_size"`
	Samples              int                             `json:"samples"`
	Nodes                map[core.VariableKey]NodeReport `json:"nodes"`
	Degenerate           []core.VariableKey              `json:"degenerate,omitempty"`
}

// Discretize encodes every network variable of the table into state indices.
// Column order follows the catalogue's network variables.
func Discretize(table *dataset.Table, cat catalogue.Catalogue, reg *transform.Registry) (*dataset.Discrete, error) {
	vars := cat.NetworkVariables()
	columns := make([]string, len(vars))
	cards := make(map[string]int, len(vars))
	cells := make([][]string, len(vars))

	for i, v := range vars {
		card, ok := reg.Cardinality(v.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrTransformMissing, v.ID)
		}
		col, err := table.Column(v.SourceColumn())
		if err != nil {
			return nil, core.NewDataQualityError(v.ID, err.Error())
		}
		columns[i] = v.ID.String()
		cards[v.ID.String()] = card
		cells[i] = col
	}

	d := dataset.NewDiscrete(columns, cards)
	for r := 0; r < table.Len(); r++ {
		row := make([]int, len(vars))
		for i, v := range vars {
			state, err := reg.Encode(v.ID, transform.Label(cells[i][r]))
			if err != nil {
				return nil, err
			}
			row[i] = state
		}
		if err := d.Append(row); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Fit estimates and attaches a CPT for every node of net.
//
// For node i with r_i states and q_i parent configurations:
//
//	alpha    = ESS / (q_i * r_i)
//	theta_jk = (N_ijk + alpha) / (N_ij + ESS / q_i)
//
// Unobserved configurations reduce to the uniform row and are not stored.
func Fit(d *dataset.Discrete, net *network.Network, opts Options) (*Report, error) {
	ess := opts.EquivalentSampleSize
	if ess <= 0 || math.IsNaN(ess) || math.IsInf(ess, 0) {
		return nil, fmt.Errorf("equivalent sample size must be positive, got %v", ess)
	}

	report := &Report{
		EquivalentSampleSize: ess,
		Samples:              d.Len(),
		Nodes:                make(map[core.VariableKey]NodeReport),
	}

	for _, id := range net.Nodes() {
		cpt, degenerate, err := fitNode(d, id, net.Parents(id), ess)
		if err != nil {
			return nil, err
		}
		if err := net.SetCPT(cpt); err != nil {
			return nil, err
		}
		if degenerate {
			report.Degenerate = append(report.Degenerate, id)
		}
		report.Nodes[id] = NodeReport{
			Cardinality:    cpt.Cardinality,
			Parents:        len(cpt.Parents),
			Configurations: cpt.Configurations(),
			Observed:       len(cpt.Rows),
		}
	}
	return report, nil
}

func fitNode(d *dataset.Discrete, id core.VariableKey, parents []core.VariableKey, ess float64) (*network.CPT, bool, error) {
	col, ok := d.Offset(id.String())
	if !ok {
		return nil, false, core.NewDataQualityError(id, "column missing from discretised table")
	}
	r := d.Cardinality[id.String()]

	parentCols := make([]int, len(parents))
	parentCards := make([]int, len(parents))
	q := 1
	for i, p := range parents {
		pc, ok := d.Offset(p.String())
		if !ok {
			return nil, false, core.NewDataQualityError(p, "column missing from discretised table")
		}
		parentCols[i] = pc
		parentCards[i] = d.Cardinality[p.String()]
		if q > maxConfigurations/parentCards[i] {
			return nil, false, fmt.Errorf("node %s has more than %d parent configurations", id, maxConfigurations)
		}
		q *= parentCards[i]
	}

	cpt := &network.CPT{
		Variable:    id,
		Cardinality: r,
		Parents:     parents,
		ParentCards: parentCards,
		Rows:        make(map[int][]float64),
		Default:     network.Uniform(r),
	}

	counts := make(map[int][]float64)
	seen := make(map[int]bool)
	config := make([]int, len(parents))
	for _, row := range d.States {
		for i, pc := range parentCols {
			config[i] = row[pc]
		}
		j := cpt.ConfigIndex(config)
		if counts[j] == nil {
			counts[j] = make([]float64, r)
		}
		counts[j][row[col]]++
		seen[row[col]] = true
	}

	qf := float64(q)
	alpha := ess / (qf * float64(r))
	for j, nijk := range counts {
		nij := 0.0
		for _, n := range nijk {
			nij += n
		}
		theta := make([]float64, r)
		denom := nij + ess/qf
		for k, n := range nijk {
			theta[k] = (n + alpha) / denom
		}
		cpt.Rows[j] = theta
	}

	return cpt, d.Len() > 0 && len(seen) == 1, nil
}
