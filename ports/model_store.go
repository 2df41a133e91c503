package ports

import (
	"context"

	"ecosim/domain/core"
	"ecosim/internal/model"
)

// ModelStorePort persists trained models. Save is called once per training run;
// Load is called at serving startup and returns an immutable model.
type ModelStorePort interface {
	Save(ctx context.Context, m *model.Model) error
	Load(ctx context.Context) (*model.Model, error)
}

// ModelInfo describes a stored model without loading it
type ModelInfo struct {
	Version core.ModelVersion    `json:"version"`
	Files   map[string]core.Hash `json:"files"`
}
