// Package catalogue loads variable catalogues from YAML files
package catalogue

import (
	"context"
	"fmt"
	"io"
	"os"

	domain "ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/internal"
	apperrors "ecosim/internal/errors"

	"gopkg.in/yaml.v3"
)

// file is the on-disk catalogue. Either list variables explicitly or give
// plain ID lists per tier; tier lists default every kind to auto.
//
//	variables:
//	  - {id: PM25, column: PM2.5, tier: state, kind: continuous}
//
//	pressure: [Traffic, Pesticides]
//	impact: [Asthma]
type file struct {
	Variables []domain.Variable `yaml:"variables"`
	Pressure  []string          `yaml:"pressure"`
	State     []string          `yaml:"state"`
	Impact    []string          `yaml:"impact"`
	Metadata  []string          `yaml:"metadata"`
}

// Loader implements ports.CataloguePort over YAML files
type Loader struct {
	logger *internal.Logger
}

// NewLoader creates a loader; logger may be nil
func NewLoader(logger *internal.Logger) *Loader {
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}
	return &Loader{logger: logger.With("Catalogue")}
}

// LoadCatalogue reads and validates the catalogue at source
func (l *Loader) LoadCatalogue(ctx context.Context, source string) (domain.Catalogue, error) {
	if err := ctx.Err(); err != nil {
		return domain.Catalogue{}, err
	}
	data, err := os.ReadFile(source)
	if os.IsNotExist(err) {
		return domain.Catalogue{}, apperrors.NotFound(fmt.Sprintf("catalogue %s", source))
	}
	if err != nil {
		return domain.Catalogue{}, fmt.Errorf("read %s: %w", source, err)
	}

	cat, err := Parse(data)
	if err != nil {
		return domain.Catalogue{}, apperrors.WithCode(apperrors.CodeConfigInvalid, fmt.Errorf("%s: %w", source, err))
	}
	l.logger.Info("catalogue %s: %d pressure, %d state, %d impact variables",
		source, len(cat.Pressure()), len(cat.State()), len(cat.Impact()))
	return cat, nil
}

// Parse decodes and validates a YAML catalogue
func Parse(data []byte) (domain.Catalogue, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Catalogue{}, fmt.Errorf("unmarshal catalogue: %w", err)
	}

	vars := f.Variables
	add := func(ids []string, tier domain.Tier) {
		for _, id := range ids {
			vars = append(vars, domain.Variable{ID: core.VariableKey(id), Tier: tier, Kind: domain.KindAuto})
		}
	}
	add(f.Metadata, domain.TierMetadata)
	add(f.Pressure, domain.TierPressure)
	add(f.State, domain.TierState)
	add(f.Impact, domain.TierImpact)

	if len(vars) == 0 {
		return domain.Catalogue{}, fmt.Errorf("catalogue lists no variables")
	}
	return domain.New(vars...)
}
