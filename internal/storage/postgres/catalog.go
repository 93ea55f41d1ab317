package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
)

const packageColumns = `id, country_id, code, provider_code, name, data_gb, duration_days,
                        wholesale_usd, retail_usd, description, available, last_synced_at`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var p model.Package
	err := row.Scan(&p.ID, &p.CountryID, &p.Code, &p.ProviderCode, &p.Name, &p.DataGB,
		&p.DurationDays, &p.WholesaleUSD, &p.RetailUSD, &p.Description, &p.Available, &p.LastSyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *packageRepository) GetByID(ctx context.Context, id int64) (*model.Package, error) {
	const query = `SELECT ` + packageColumns + ` FROM packages WHERE id=$1`
	return scanPackage(r.storage.pool.QueryRow(ctx, query, id))
}

func (r *packageRepository) GetByCode(ctx context.Context, code string) (*model.Package, error) {
	const query = `SELECT ` + packageColumns + ` FROM packages WHERE code=$1`
	return scanPackage(r.storage.pool.QueryRow(ctx, query, code))
}

func (r *packageRepository) ListByCountry(ctx context.Context, countryID int64, availableOnly bool) ([]model.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE country_id=$1`
	if availableOnly {
		query += ` AND available`
	}
	query += ` ORDER BY data_gb, duration_days`

	rows, err := r.storage.pool.Query(ctx, query, countryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Package
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.ID, &p.CountryID, &p.Code, &p.ProviderCode, &p.Name, &p.DataGB,
			&p.DurationDays, &p.WholesaleUSD, &p.RetailUSD, &p.Description, &p.Available, &p.LastSyncedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SyncCountry reconciles the country's catalog in one transaction. A
// per-country advisory lock serializes concurrent syncs of the same
// country while leaving other countries untouched.
func (r *packageRepository) SyncCountry(ctx context.Context, countryID int64, packages []model.Package) (repository.CatalogSyncStats, error) {
	const upsertQuery = `INSERT INTO packages
                         (country_id, code, provider_code, name, data_gb, duration_days,
                          wholesale_usd, retail_usd, description, available, last_synced_at)
                         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW())
                         ON CONFLICT (code) DO UPDATE
                         SET provider_code = EXCLUDED.provider_code,
                             name = EXCLUDED.name,
                             data_gb = EXCLUDED.data_gb,
                             duration_days = EXCLUDED.duration_days,
                             wholesale_usd = EXCLUDED.wholesale_usd,
                             retail_usd = EXCLUDED.retail_usd,
                             description = EXCLUDED.description,
                             available = TRUE,
                             last_synced_at = NOW()
                         WHERE packages.country_id = EXCLUDED.country_id
                         RETURNING (xmax = 0)`
	const archiveQuery = `UPDATE packages SET available = FALSE
                          WHERE country_id = $1 AND available AND NOT (code = ANY($2))`

	var stats repository.CatalogSyncStats
	err := r.storage.WithinTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, countryID); err != nil {
			return err
		}

		codes := make([]string, 0, len(packages))
		for i := range packages {
			p := &packages[i]
			var created bool
			err := tx.QueryRow(ctx, upsertQuery,
				countryID, p.Code, p.ProviderCode, p.Name, p.DataGB, p.DurationDays,
				p.WholesaleUSD, p.RetailUSD, p.Description).Scan(&created)
			if err != nil {
				// The guarded upsert touches nothing when the code already
				// belongs to another country; skip the plan instead of
				// clobbering the other row's prices.
				if errors.Is(err, pgx.ErrNoRows) {
					r.storage.logger.Warn("package code held by another country, skipped",
						slog.String("code", p.Code),
						slog.Int64("country_id", countryID))
					continue
				}
				return err
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
			codes = append(codes, p.Code)
		}

		tag, err := tx.Exec(ctx, archiveQuery, countryID, codes)
		if err != nil {
			return err
		}
		stats.Archived = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return repository.CatalogSyncStats{}, err
	}
	return stats, nil
}
