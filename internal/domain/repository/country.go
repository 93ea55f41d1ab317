package repository

import (
	"context"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// CountryRepository describes persistence operations with countries.
type CountryRepository interface {
	// Upsert creates or refreshes a country by code and reports whether
	// a new row was created.
	Upsert(ctx context.Context, country *model.Country) (bool, error)
	GetByCode(ctx context.Context, code string) (*model.Country, error)
	List(ctx context.Context, availableOnly bool) ([]model.Country, error)
}
