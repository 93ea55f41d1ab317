package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmockv3 "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

func packageRows(packages ...*model.Package) *pgxmockv3.Rows {
	rows := pgxmockv3.NewRows([]string{
		"id", "country_id", "code", "provider_code", "name", "data_gb", "duration_days",
		"wholesale_usd", "retail_usd", "description", "available", "last_synced_at",
	})
	for _, p := range packages {
		rows.AddRow(p.ID, p.CountryID, p.Code, p.ProviderCode, p.Name, p.DataGB, p.DurationDays,
			p.WholesaleUSD, p.RetailUSD, p.Description, p.Available, p.LastSyncedAt)
	}
	return rows
}

func samplePackage(id int64, code string) *model.Package {
	syncedAt := time.Now()
	return &model.Package{
		ID:           id,
		CountryID:    5,
		Code:         code,
		ProviderCode: "NL-5GB-30D",
		Name:         "Netherlands 5GB 30 Days",
		DataGB:       decimal.RequireFromString("5.00"),
		DurationDays: 30,
		WholesaleUSD: decimal.RequireFromString("2.5000"),
		RetailUSD:    decimal.RequireFromString("5.0000"),
		Available:    true,
		LastSyncedAt: &syncedAt,
	}
}

func TestPackageRepositoryLookups(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &packageRepository{storage: storage}

	mock.ExpectQuery("SELECT (.+) FROM packages WHERE id=").WithArgs(int64(7)).
		WillReturnRows(packageRows(samplePackage(7, "NL-5GB-30D")))
	pkg, err := repo.GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkg.ProviderCode != "NL-5GB-30D" {
		t.Fatalf("unexpected provider code %q", pkg.ProviderCode)
	}

	mock.ExpectQuery("SELECT (.+) FROM packages WHERE code=").WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetByCode(context.Background(), "missing"); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM packages WHERE country_id=").WithArgs(int64(5)).
		WillReturnRows(packageRows(samplePackage(7, "NL-5GB-30D"), samplePackage(8, "NL-10GB-30D")))
	packages, err := repo.ListByCountry(context.Background(), 5, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(packages))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestSyncCountry(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &packageRepository{storage: storage}

	fresh := samplePackage(0, "NL-5GB-30D")
	known := samplePackage(0, "NL-10GB-30D")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(5)).
		WillReturnResult(pgxmockv3.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(int64(5), fresh.Code, fresh.ProviderCode, fresh.Name, fresh.DataGB, fresh.DurationDays,
			fresh.WholesaleUSD, fresh.RetailUSD, fresh.Description).
		WillReturnRows(pgxmockv3.NewRows([]string{"created"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(int64(5), known.Code, known.ProviderCode, known.Name, known.DataGB, known.DurationDays,
			known.WholesaleUSD, known.RetailUSD, known.Description).
		WillReturnRows(pgxmockv3.NewRows([]string{"created"}).AddRow(false))
	mock.ExpectExec("UPDATE packages SET available = FALSE").
		WithArgs(int64(5), []string{"NL-5GB-30D", "NL-10GB-30D"}).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	stats, err := repo.SyncCountry(context.Background(), 5, []model.Package{*fresh, *known})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 1 || stats.Updated != 1 || stats.Archived != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestSyncCountrySkipsCodeHeldByAnotherCountry(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &packageRepository{storage: storage}

	fresh := samplePackage(0, "NL-5GB-30D")
	foreign := samplePackage(0, "SHARED-5GB")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(5)).
		WillReturnResult(pgxmockv3.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(int64(5), fresh.Code, fresh.ProviderCode, fresh.Name, fresh.DataGB, fresh.DurationDays,
			fresh.WholesaleUSD, fresh.RetailUSD, fresh.Description).
		WillReturnRows(pgxmockv3.NewRows([]string{"created"}).AddRow(true))
	// The code already belongs to a row of another country; the guarded
	// upsert touches nothing and returns no row.
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(int64(5), foreign.Code, foreign.ProviderCode, foreign.Name, foreign.DataGB, foreign.DurationDays,
			foreign.WholesaleUSD, foreign.RetailUSD, foreign.Description).
		WillReturnRows(pgxmockv3.NewRows([]string{"created"}))
	mock.ExpectExec("UPDATE packages SET available = FALSE").
		WithArgs(int64(5), []string{"NL-5GB-30D"}).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	stats, err := repo.SyncCountry(context.Background(), 5, []model.Package{*fresh, *foreign})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 1 || stats.Updated != 0 {
		t.Fatalf("the foreign code must count neither way: %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestSyncCountryRollsBackOnUpsertError(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &packageRepository{storage: storage}

	pkg := samplePackage(0, "NL-5GB-30D")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(5)).
		WillReturnResult(pgxmockv3.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(int64(5), pkg.Code, pkg.ProviderCode, pkg.Name, pkg.DataGB, pkg.DurationDays,
			pkg.WholesaleUSD, pkg.RetailUSD, pkg.Description).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := repo.SyncCountry(context.Background(), 5, []model.Package{*pkg}); err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
