package repository

import (
	"context"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// CatalogSyncStats summarizes one country's package reconciliation.
type CatalogSyncStats struct {
	Created  int
	Updated  int
	Archived int
}

// PackageRepository describes persistence operations with packages.
type PackageRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Package, error)
	// GetByCode looks a package up by its locally unique code across all
	// countries; the synchronizer uses it to detect provider code reuse.
	GetByCode(ctx context.Context, code string) (*model.Package, error)
	ListByCountry(ctx context.Context, countryID int64, availableOnly bool) ([]model.Package, error)
	// SyncCountry upserts the given packages and archives previously
	// synced packages of the country that are no longer offered, all
	// inside one per-country transaction.
	SyncCountry(ctx context.Context, countryID int64, packages []model.Package) (CatalogSyncStats, error)
}
