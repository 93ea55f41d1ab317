package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package describes a data plan offered for a single country.
//
// Code is unique in local storage. The provider reuses its codes across
// countries, so a colliding plan gets a locally qualified code minted by
// the catalog synchronizer; ProviderCode always carries the original
// code the provisioning API expects.
type Package struct {
	ID           int64
	CountryID    int64
	Code         string
	ProviderCode string
	Name         string
	DataGB       decimal.Decimal
	DurationDays int
	WholesaleUSD decimal.Decimal
	RetailUSD    decimal.Decimal
	Description  string
	Available    bool
	LastSyncedAt *time.Time
}
