package app

import (
	"context"
	"io"
	"time"

	"ecosim/domain/core"
	"ecosim/internal"
	apperrors "ecosim/internal/errors"
	"ecosim/internal/estimator"
	"ecosim/internal/model"
	"ecosim/ports"
)

// TrainingRequest names the inputs of one offline training run
type TrainingRequest struct {
	TableSource     string
	CatalogueSource string
	Options         estimator.Options
}

// TrainingService runs the offline pipeline: read table and catalogue, fit
// transforms and CPTs, and persist the model
type TrainingService struct {
	tables     ports.TableReaderPort
	catalogues ports.CataloguePort
	store      ports.ModelStorePort
	logger     *internal.Logger
}

// NewTrainingService creates a training service; logger may be nil
func NewTrainingService(tables ports.TableReaderPort, catalogues ports.CataloguePort, store ports.ModelStorePort, logger *internal.Logger) *TrainingService {
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}
	return &TrainingService{
		tables:     tables,
		catalogues: catalogues,
		store:      store,
		logger:     logger.With("Training"),
	}
}

// Train runs the pipeline. A variable that cannot be fitted aborts the run
// with a DATA_QUALITY error naming it; nothing is persisted in that case.
func (s *TrainingService) Train(ctx context.Context, req TrainingRequest) (*model.Report, error) {
	start := time.Now()

	cat, err := s.catalogues.LoadCatalogue(ctx, req.CatalogueSource)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to load catalogue %s", req.CatalogueSource)
	}
	table, err := s.tables.ReadTable(ctx, req.TableSource)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to read training table %s", req.TableSource)
	}
	s.logger.Info("training on %d rows, %d network variables", table.Len(), len(cat.NetworkVariables()))

	mdl, report, err := model.Train(table, cat, req.Options)
	if err != nil {
		if core.IsDataQualityError(err) {
			s.logger.Error("%v", err)
			return nil, apperrors.WithCode(apperrors.CodeDataQuality, err)
		}
		return nil, apperrors.Wrap(err, "training failed")
	}

	for _, v := range report.Variables {
		s.logger.Debug("%s (%s, %s): %d states %s", v.ID, v.Tier, v.Kind, v.Cardinality, v.Strategy)
	}
	for _, id := range report.Estimator.Degenerate {
		s.logger.Warn("variable %s is constant in the training table; its CPT is a near point mass", id)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, mdl); err != nil {
		return nil, apperrors.Wrap(err, "failed to save model")
	}

	s.logger.Info("model %s trained in %s: %d edges", mdl.Version, time.Since(start).Round(time.Millisecond), report.Edges)
	return report, nil
}
