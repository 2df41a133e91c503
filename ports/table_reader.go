package ports

import (
	"context"

	"ecosim/domain/catalogue"
	"ecosim/domain/dataset"
)

// TableReaderPort reads the joined training table
type TableReaderPort interface {
	ReadTable(ctx context.Context, source string) (*dataset.Table, error)
}

// CataloguePort loads the variable catalogue of a model version
type CataloguePort interface {
	LoadCatalogue(ctx context.Context, source string) (catalogue.Catalogue, error)
}
