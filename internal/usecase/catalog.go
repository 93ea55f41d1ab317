package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/biter777/countries"
	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/adapter/provider"
	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
)

const (
	// bytesPerGB converts provider volumes (bytes) to gigabytes.
	bytesPerGB = int64(1) << 30
	// priceScale converts provider price units to USD.
	priceScale = 10000
)

// regional indicator symbols start at U+1F1E6 where 'A' maps onto the
// first one; a two letter ISO code becomes its flag glyph.
func flagEmoji(code string) string {
	code = strings.ToUpper(code)
	if len(code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// CatalogSyncResult aggregates one full synchronization run.
type CatalogSyncResult struct {
	Countries int
	Created   int
	Updated   int
	Archived  int
	Failed    []string
}

// CatalogUseCase mirrors the provider's package catalog into local
// storage, one country at a time.
type CatalogUseCase struct {
	client    provider.Client
	countries repository.CountryRepository
	packages  repository.PackageRepository
	logger    *slog.Logger
}

// NewCatalogUseCase constructs CatalogUseCase.
func NewCatalogUseCase(client provider.Client, c repository.CountryRepository,
	p repository.PackageRepository, logger *slog.Logger) *CatalogUseCase {
	return &CatalogUseCase{client: client, countries: c, packages: p, logger: logger}
}

// EnsureCountry upserts a country row for an ISO 3166-1 alpha-2 code,
// deriving the display name and flag glyph from the code.
func (u *CatalogUseCase) EnsureCountry(ctx context.Context, code string) (*model.Country, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	cc := countries.ByName(code)
	if cc == countries.Unknown || cc == countries.None {
		return nil, apperrors.DataIntegrityError{Field: "country", Detail: fmt.Sprintf("unknown ISO code %q", code)}
	}

	country := &model.Country{
		Code:      code,
		Name:      cc.String(),
		FlagEmoji: flagEmoji(code),
	}
	created, err := u.countries.Upsert(ctx, country)
	if err != nil {
		return nil, err
	}
	if created {
		u.logger.Info("country added", slog.String("code", code), slog.String("name", country.Name))
	}
	return country, nil
}

// SyncCountry fetches the provider catalog for one country and
// reconciles local packages against it.
func (u *CatalogUseCase) SyncCountry(ctx context.Context, code string) (repository.CatalogSyncStats, error) {
	country, err := u.EnsureCountry(ctx, code)
	if err != nil {
		return repository.CatalogSyncStats{}, err
	}

	payloads, err := u.client.ListPackages(ctx, country.Code)
	if err != nil {
		return repository.CatalogSyncStats{}, err
	}

	packages := make([]model.Package, 0, len(payloads))
	for _, p := range payloads {
		// The provider treats the location parameter as a prefix hint
		// and returns regional bundles alongside; only exact matches
		// belong to this country.
		if p.Location != country.Code {
			continue
		}
		pkg, err := u.buildPackage(ctx, country, p)
		if err != nil {
			u.logger.Warn("skipping package",
				slog.String("provider_code", p.PackageCode),
				slog.Any("error", err))
			continue
		}
		packages = append(packages, *pkg)
	}

	stats, err := u.packages.SyncCountry(ctx, country.ID, packages)
	if err != nil {
		return repository.CatalogSyncStats{}, err
	}

	u.logger.Info("catalog synced",
		slog.String("country", country.Code),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("archived", stats.Archived))
	return stats, nil
}

// fallbackCountries seeds the catalog when the provider's full package
// list cannot be fetched and nothing is stored yet, so a fresh
// deployment has destinations to sync once the provider recovers.
var fallbackCountries = []string{
	"US", "GB", "DE", "FR", "IT", "ES", "TR", "AE", "TH", "JP",
	"CN", "SG", "AU", "CA", "MX", "BR", "EG", "ZA", "RU", "IN",
}

// SyncCountries derives the country list from the provider's full
// catalog and upserts a row for each exact two-letter location it
// carries. Regional and global bundles use longer location strings and
// are skipped here.
func (u *CatalogUseCase) SyncCountries(ctx context.Context) ([]string, error) {
	payloads, err := u.client.ListPackages(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, p := range payloads {
		code := strings.ToUpper(strings.TrimSpace(p.Location))
		if len(code) != 2 {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		if _, err := u.EnsureCountry(ctx, code); err != nil {
			u.logger.Warn("skipping catalog location",
				slog.String("location", code),
				slog.Any("error", err))
			continue
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// SyncAll discovers countries from the provider's full catalog, then
// reconciles each one, keeping going when a single country fails.
// Countries already stored but no longer listed are synced too so
// their packages get archived; when discovery itself fails the stored
// list doubles as the fallback.
func (u *CatalogUseCase) SyncAll(ctx context.Context) (CatalogSyncResult, error) {
	codes, err := u.SyncCountries(ctx)
	if err != nil {
		u.logger.Error("country discovery failed", slog.Any("error", err))
	}

	discovered := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		discovered[code] = struct{}{}
	}
	known, listErr := u.countries.List(ctx, false)
	if listErr != nil {
		if len(codes) == 0 {
			return CatalogSyncResult{}, listErr
		}
		u.logger.Error("listing stored countries failed", slog.Any("error", listErr))
	}
	for _, country := range known {
		if _, ok := discovered[country.Code]; !ok {
			codes = append(codes, country.Code)
		}
	}
	if len(codes) == 0 && err != nil {
		u.logger.Warn("seeding fallback country list")
		for _, code := range fallbackCountries {
			if _, err := u.EnsureCountry(ctx, code); err == nil {
				codes = append(codes, code)
			}
		}
	}

	var result CatalogSyncResult
	for _, code := range codes {
		stats, err := u.SyncCountry(ctx, code)
		if err != nil {
			u.logger.Error("country sync failed",
				slog.String("country", code),
				slog.Any("error", err))
			result.Failed = append(result.Failed, code)
			continue
		}
		result.Countries++
		result.Created += stats.Created
		result.Updated += stats.Updated
		result.Archived += stats.Archived
	}
	return result, nil
}

func (u *CatalogUseCase) buildPackage(ctx context.Context, country *model.Country, p provider.PackagePayload) (*model.Package, error) {
	if p.PackageCode == "" {
		return nil, apperrors.DataIntegrityError{Field: "packageCode", Detail: "empty"}
	}
	if p.Volume <= 0 {
		return nil, apperrors.DataIntegrityError{Field: "volume", Detail: "not positive"}
	}
	durationDays, err := durationInDays(p.Duration, p.DurationUnit)
	if err != nil {
		return nil, err
	}

	dataGB := decimal.NewFromInt(p.Volume).Div(decimal.NewFromInt(bytesPerGB)).Round(2)
	wholesale := decimal.New(p.Price, -4)
	retail := decimal.New(p.RetailPrice, -4)
	if retail.IsZero() {
		retail = wholesale.Mul(decimal.NewFromInt(2)).Round(2)
	}

	name := p.Name
	if name == "" {
		name = fmt.Sprintf("%s %sGB %dD", country.Code, dataGB, durationDays)
	}

	code, err := u.localCode(ctx, country, p.PackageCode, dataGB, durationDays)
	if err != nil {
		return nil, err
	}

	return &model.Package{
		CountryID:    country.ID,
		Code:         code,
		ProviderCode: p.PackageCode,
		Name:         name,
		DataGB:       dataGB,
		DurationDays: durationDays,
		WholesaleUSD: wholesale,
		RetailUSD:    retail,
		Description:  p.Description,
		Available:    true,
	}, nil
}

// localCode keeps the provider code as the local identifier unless
// another country already claimed it; the colliding plan gets a
// qualified code so storage stays globally unique.
func (u *CatalogUseCase) localCode(ctx context.Context, country *model.Country, providerCode string, dataGB decimal.Decimal, durationDays int) (string, error) {
	existing, err := u.packages.GetByCode(ctx, providerCode)
	switch {
	case err == nil:
		if existing.CountryID == country.ID {
			return providerCode, nil
		}
	case errors.Is(err, apperrors.ErrNotFound):
		return providerCode, nil
	default:
		return "", err
	}

	qualified := fmt.Sprintf("%s-%sGB-%dD-%s", country.Code, dataGB.StringFixed(0), durationDays, providerCode)
	u.logger.Warn("provider code reused across countries",
		slog.String("provider_code", providerCode),
		slog.String("qualified_code", qualified))
	return qualified, nil
}

func durationInDays(duration int, unit string) (int, error) {
	if duration <= 0 {
		return 0, apperrors.DataIntegrityError{Field: "duration", Detail: "not positive"}
	}
	switch strings.ToUpper(unit) {
	case "", "DAY", "DAYS":
		return duration, nil
	case "MONTH", "MONTHS":
		return duration * 30, nil
	default:
		return 0, apperrors.DataIntegrityError{Field: "durationUnit", Detail: fmt.Sprintf("unsupported unit %q", unit)}
	}
}
