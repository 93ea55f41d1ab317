package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

const orderColumns = `id, user_id, package_id, transaction_id, order_type, topup_esim_id, status,
                      payment_method, invoice_id, payment_url, paid_at, amount_usd,
                      provider_order_no, created_at, updated_at`

func scanOrderRow(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.PackageID, &o.TransactionID, &o.Type, &o.TopupESimID,
		&o.Status, &o.PaymentMethod, &o.InvoiceID, &o.PaymentURL, &o.PaidAt, &o.AmountUSD,
		&o.ProviderOrderNo, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var result []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.PackageID, &o.TransactionID, &o.Type, &o.TopupESimID,
			&o.Status, &o.PaymentMethod, &o.InvoiceID, &o.PaymentURL, &o.PaidAt, &o.AmountUSD,
			&o.ProviderOrderNo, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) (*model.Order, error) {
	const query = `INSERT INTO orders
                   (user_id, package_id, transaction_id, order_type, topup_esim_id, status, amount_usd)
                   VALUES ($1, $2, $3, $4, $5, $6, $7)
                   RETURNING id, created_at, updated_at`
	err := r.storage.pool.QueryRow(ctx, query,
		order.UserID, order.PackageID, order.TransactionID, order.Type, order.TopupESimID,
		order.Status, order.AmountUSD).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domainErrors.ErrAlreadyExists
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	return scanOrderRow(r.storage.pool.QueryRow(ctx, query, id))
}

func (r *orderRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE transaction_id=$1`
	return scanOrderRow(r.storage.pool.QueryRow(ctx, query, transactionID))
}

func (r *orderRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
                   WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.storage.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// casUpdate runs a conditional status transition and translates a
// zero-row result into a StateConflictError carrying the actual status.
func (r *orderRepository) casUpdate(ctx context.Context, orderID int64, to model.OrderStatus, query string, args ...any) error {
	tag, err := r.storage.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current model.OrderStatus
	err = r.storage.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainErrors.ErrNotFound
		}
		return err
	}
	return domainErrors.StateConflictError{OrderID: orderID, Current: string(current), Attempted: string(to)}
}

func (r *orderRepository) SetInvoice(ctx context.Context, orderID int64, method, invoiceID, paymentURL string) error {
	const query = `UPDATE orders
                   SET status=$2, payment_method=$3, invoice_id=$4, payment_url=$5, updated_at=NOW()
                   WHERE id=$1 AND status=$6`
	return r.casUpdate(ctx, orderID, model.OrderStatusAwaitingPayment,
		query, orderID, model.OrderStatusAwaitingPayment, method, invoiceID, paymentURL, model.OrderStatusCreated)
}

func (r *orderRepository) MarkPaid(ctx context.Context, orderID int64, paidAt time.Time) error {
	const query = `UPDATE orders SET status=$2, paid_at=$3, updated_at=NOW()
                   WHERE id=$1 AND status=$4`
	return r.casUpdate(ctx, orderID, model.OrderStatusPaid,
		query, orderID, model.OrderStatusPaid, paidAt, model.OrderStatusAwaitingPayment)
}

func (r *orderRepository) UpdateStatusFrom(ctx context.Context, orderID int64, from, to model.OrderStatus) error {
	if !model.CanTransition(from, to) {
		return domainErrors.StateConflictError{OrderID: orderID, Current: string(from), Attempted: string(to)}
	}
	const query = `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3`
	return r.casUpdate(ctx, orderID, to, query, orderID, to, from)
}

func (r *orderRepository) SetProviderOrderNo(ctx context.Context, orderID int64, orderNo string) error {
	const query = `UPDATE orders SET provider_order_no=$2, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, orderID, orderNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

// SelectFailedPaid claims settled orders that previously failed to
// provision: each returned order has already been moved back to
// PROCESSING inside the claiming transaction, so concurrent sweeps
// never pick up the same order.
func (r *orderRepository) SelectFailedPaid(ctx context.Context, limit int) ([]model.Order, error) {
	const selectQuery = `SELECT ` + orderColumns + ` FROM orders
                         WHERE status='FAILED' AND paid_at IS NOT NULL
                         ORDER BY updated_at
                         LIMIT $1
                         FOR UPDATE SKIP LOCKED`

	var orders []model.Order
	err := r.storage.WithinTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectQuery, limit)
		if err != nil {
			return err
		}
		claimed, err := scanOrders(rows)
		if err != nil {
			return err
		}
		for i := range claimed {
			if _, err := tx.Exec(ctx, `UPDATE orders SET status='PROCESSING', updated_at=NOW() WHERE id=$1`, claimed[i].ID); err != nil {
				return err
			}
			claimed[i].Status = model.OrderStatusProcessing
		}
		orders = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SelectStuckProvisioning returns paid orders that hold a provider order
// number but still have no linked profile.
func (r *orderRepository) SelectStuckProvisioning(ctx context.Context, limit int) ([]model.Order, error) {
	const query = `SELECT o.id, o.user_id, o.package_id, o.transaction_id, o.order_type, o.topup_esim_id,
                          o.status, o.payment_method, o.invoice_id, o.payment_url, o.paid_at, o.amount_usd,
                          o.provider_order_no, o.created_at, o.updated_at
                   FROM orders o
                   LEFT JOIN esims e ON e.order_id = o.id
                   WHERE o.status='PROCESSING' AND o.provider_order_no <> '' AND e.id IS NULL
                   ORDER BY o.updated_at
                   LIMIT $1`
	rows, err := r.storage.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}
