package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

const esimColumns = `id, order_id, esim_tran_no, iccid, activation_code, qr_code_url, short_url,
                     smdp_status, status, total_bytes, used_bytes, expired_at, low_data_notified,
                     raw_payload, created_at, updated_at`

func scanESimRow(row pgx.Row) (*model.ESim, error) {
	var e model.ESim
	err := row.Scan(&e.ID, &e.OrderID, &e.TranNo, &e.ICCID, &e.ActivationCode, &e.QRCodeURL,
		&e.ShortURL, &e.SMDPStatus, &e.Status, &e.TotalBytes, &e.UsedBytes, &e.ExpiredAt,
		&e.LowDataNotified, &e.RawPayload, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanESims(rows pgx.Rows) ([]model.ESim, error) {
	defer rows.Close()

	var result []model.ESim
	for rows.Next() {
		var e model.ESim
		if err := rows.Scan(&e.ID, &e.OrderID, &e.TranNo, &e.ICCID, &e.ActivationCode, &e.QRCodeURL,
			&e.ShortURL, &e.SMDPStatus, &e.Status, &e.TotalBytes, &e.UsedBytes, &e.ExpiredAt,
			&e.LowDataNotified, &e.RawPayload, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *esimRepository) Create(ctx context.Context, esim *model.ESim) (*model.ESim, error) {
	const query = `INSERT INTO esims
                   (order_id, esim_tran_no, iccid, activation_code, qr_code_url, short_url,
                    smdp_status, status, total_bytes, used_bytes, expired_at, raw_payload)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
                   RETURNING id, created_at, updated_at`
	err := r.storage.pool.QueryRow(ctx, query,
		esim.OrderID, esim.TranNo, esim.ICCID, esim.ActivationCode, esim.QRCodeURL, esim.ShortURL,
		esim.SMDPStatus, esim.Status, esim.TotalBytes, esim.UsedBytes, esim.ExpiredAt, esim.RawPayload).
		Scan(&esim.ID, &esim.CreatedAt, &esim.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domainErrors.ErrAlreadyExists
		}
		return nil, err
	}
	return esim, nil
}

func (r *esimRepository) GetByID(ctx context.Context, id int64) (*model.ESim, error) {
	const query = `SELECT ` + esimColumns + ` FROM esims WHERE id=$1`
	return scanESimRow(r.storage.pool.QueryRow(ctx, query, id))
}

func (r *esimRepository) GetByOrderID(ctx context.Context, orderID int64) (*model.ESim, error) {
	const query = `SELECT ` + esimColumns + ` FROM esims WHERE order_id=$1`
	return scanESimRow(r.storage.pool.QueryRow(ctx, query, orderID))
}

func (r *esimRepository) GetByICCID(ctx context.Context, iccid string) (*model.ESim, error) {
	const query = `SELECT ` + esimColumns + ` FROM esims WHERE iccid=$1`
	return scanESimRow(r.storage.pool.QueryRow(ctx, query, iccid))
}

func (r *esimRepository) GetByTranNo(ctx context.Context, tranNo string) (*model.ESim, error) {
	const query = `SELECT ` + esimColumns + ` FROM esims WHERE esim_tran_no=$1`
	return scanESimRow(r.storage.pool.QueryRow(ctx, query, tranNo))
}

func (r *esimRepository) ListByUser(ctx context.Context, userID int64) ([]model.ESim, error) {
	const query = `SELECT e.id, e.order_id, e.esim_tran_no, e.iccid, e.activation_code, e.qr_code_url,
                          e.short_url, e.smdp_status, e.status, e.total_bytes, e.used_bytes, e.expired_at,
                          e.low_data_notified, e.raw_payload, e.created_at, e.updated_at
                   FROM esims e
                   JOIN orders o ON o.id = e.order_id
                   WHERE o.user_id=$1
                   ORDER BY e.created_at DESC`
	rows, err := r.storage.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return scanESims(rows)
}

func (r *esimRepository) ListActive(ctx context.Context) ([]model.ESim, error) {
	const query = `SELECT ` + esimColumns + ` FROM esims
                   WHERE status=$1 ORDER BY updated_at`
	rows, err := r.storage.pool.Query(ctx, query, model.ESimStatusActivated)
	if err != nil {
		return nil, err
	}
	return scanESims(rows)
}

func (r *esimRepository) UpdateStatus(ctx context.Context, id int64, status model.ESimStatus, smdpStatus string) error {
	const query = `UPDATE esims SET status=$2, smdp_status=$3, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, status, smdpStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

func (r *esimRepository) UpdateUsage(ctx context.Context, id int64, totalBytes, usedBytes int64) error {
	const query = `UPDATE esims SET total_bytes=$2, used_bytes=$3, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, totalBytes, usedBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

func (r *esimRepository) UpdateValidity(ctx context.Context, id int64, expiredAt time.Time) error {
	const query = `UPDATE esims SET expired_at=$2, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, expiredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

func (r *esimRepository) SetLowDataNotified(ctx context.Context, id int64, notified bool) error {
	const query = `UPDATE esims SET low_data_notified=$2, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, notified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

// ApplyTopup extends the allowance, re-arms the low-data latch, and
// brings a depleted profile back to life so the usage watch resumes
// polling it.
func (r *esimRepository) ApplyTopup(ctx context.Context, id int64, addBytes int64, expiredAt *time.Time) error {
	const query = `UPDATE esims
                   SET total_bytes = total_bytes + $2,
                       expired_at = COALESCE($3, expired_at),
                       low_data_notified = FALSE,
                       status = CASE WHEN status IN ($4, $5) THEN $6 ELSE status END,
                       updated_at = NOW()
                   WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, addBytes, expiredAt,
		model.ESimStatusDepleted, model.ESimStatusExpired, model.ESimStatusActivated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}
