package dto

import (
	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// CountryResponse is the wire form of one destination.
type CountryResponse struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	FlagEmoji string `json:"flag_emoji,omitempty"`
}

// ToCountryResponse converts the domain country.
func ToCountryResponse(country model.Country) CountryResponse {
	return CountryResponse{Code: country.Code, Name: country.Name, FlagEmoji: country.FlagEmoji}
}

// PackageResponse is the wire form of one data plan.
type PackageResponse struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DataGB       decimal.Decimal `json:"data_gb"`
	DurationDays int             `json:"duration_days"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	Description  string          `json:"description,omitempty"`
}

// ToPackageResponse converts the domain package. Only the retail price
// is exposed.
func ToPackageResponse(pkg model.Package) PackageResponse {
	return PackageResponse{
		ID:           pkg.ID,
		Code:         pkg.Code,
		Name:         pkg.Name,
		DataGB:       pkg.DataGB,
		DurationDays: pkg.DurationDays,
		PriceUSD:     pkg.RetailUSD,
		Description:  pkg.Description,
	}
}

// SyncReport summarizes an on-demand catalog synchronization.
type SyncReport struct {
	Countries int      `json:"countries"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Archived  int      `json:"archived"`
	Failed    []string `json:"failed,omitempty"`
}
