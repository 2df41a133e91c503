// Package model bundles the fitted transforms, network and catalogue of one
// model version and trains them from a raw table.
package model

import (
	"fmt"
	"time"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/domain/dataset"
	"ecosim/internal/estimator"
	"ecosim/internal/network"
	"ecosim/internal/transform"
)

// Model is immutable once trained or loaded
type Model struct {
	Version   core.ModelVersion
	CreatedAt time.Time
	Catalogue catalogue.Catalogue
	Registry  *transform.Registry
	Network   *network.Network
}

// VariableReport describes the fitted transform of one variable
type VariableReport struct {
	ID          core.VariableKey      `json:"id"`
	Tier        catalogue.Tier        `json:"tier"`
	Kind        catalogue.Kind        `json:"kind"`
	Cardinality int                   `json:"cardinality"`
	Strategy    transform.BinStrategy `json:"strategy,omitempty"`
	Collapsed   []string              `json:"collapsed,omitempty"`
}

// Report summarises a training run
type Report struct {
	Version   core.ModelVersion `json:"version"`
	Samples   int               `json:"samples"`
	Edges     int               `json:"edges"`
	Variables []VariableReport  `json:"variables"`
	Estimator *estimator.Report `json:"estimator"`
}

// Train fits a transform per network variable, discretises the table, builds
// the tiered network and estimates its CPTs. Any variable that cannot be
// fitted aborts training.
func Train(table *dataset.Table, cat catalogue.Catalogue, opts estimator.Options) (*Model, *Report, error) {
	if err := cat.Validate(); err != nil {
		return nil, nil, err
	}
	if table.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: training table has no rows", core.ErrDataQuality)
	}

	report := &Report{Samples: table.Len()}
	reg := transform.NewRegistry()
	for _, v := range cat.NetworkVariables() {
		cells, err := table.Column(v.SourceColumn())
		if err != nil {
			return nil, nil, core.NewDataQualityError(v.ID, err.Error())
		}
		t, err := transform.FitColumn(v, cells)
		if err != nil {
			return nil, nil, err
		}
		if err := reg.Add(v.ID, t); err != nil {
			return nil, nil, err
		}
		report.Variables = append(report.Variables, describe(v, t))
	}

	discrete, err := estimator.Discretize(table, cat, reg)
	if err != nil {
		return nil, nil, err
	}
	net, err := network.Build(cat)
	if err != nil {
		return nil, nil, err
	}
	fit, err := estimator.Fit(discrete, net, opts)
	if err != nil {
		return nil, nil, err
	}

	m := &Model{
		Version:   core.NewModelVersion(),
		CreatedAt: time.Now().UTC(),
		Catalogue: cat,
		Registry:  reg,
		Network:   net,
	}
	report.Version = m.Version
	report.Edges = len(net.Edges())
	report.Estimator = fit
	return m, report, nil
}

func describe(v catalogue.Variable, t transform.Transform) VariableReport {
	r := VariableReport{ID: v.ID, Tier: v.Tier, Kind: t.Kind(), Cardinality: t.Cardinality()}
	switch tr := t.(type) {
	case *transform.Continuous:
		r.Strategy = tr.Strategy
	case *transform.Categorical:
		r.Collapsed = tr.Collapsed
	}
	return r
}

// Validate checks that catalogue, transforms and network describe the same
// variables with matching cardinalities
func (m *Model) Validate() error {
	if m.Registry == nil || m.Network == nil {
		return fmt.Errorf("model is incomplete")
	}
	if err := m.Catalogue.Validate(); err != nil {
		return err
	}
	vars := m.Catalogue.NetworkVariables()
	if len(vars) != len(m.Network.Nodes()) {
		return fmt.Errorf("catalogue has %d network variables, network has %d nodes", len(vars), len(m.Network.Nodes()))
	}
	for _, v := range vars {
		if !m.Network.Has(v.ID) {
			return fmt.Errorf("variable %s missing from network", v.ID)
		}
		tier, _ := m.Network.Tier(v.ID)
		if tier != v.Tier {
			return fmt.Errorf("variable %s is %s in the catalogue but %s in the network", v.ID, v.Tier, tier)
		}
		tc, ok := m.Registry.Cardinality(v.ID)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrTransformMissing, v.ID)
		}
		nc, ok := m.Network.Cardinality(v.ID)
		if !ok {
			return fmt.Errorf("variable %s has no cpt", v.ID)
		}
		if tc != nc {
			return fmt.Errorf("variable %s has %d transform states but %d cpt states", v.ID, tc, nc)
		}
	}
	return m.Network.Validate()
}
