package repository

import (
	"context"
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// OrderRepository describes persistence operations with orders.
//
// Status-mutating methods are conditional updates keyed on the current
// status: they return a StateConflictError when the order has moved on,
// which is the serialization primitive between the webhook, polling,
// and reconciliation paths.
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) (*model.Order, error)
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Order, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error)

	// SetInvoice moves CREATED -> AWAITING_PAYMENT recording the payment
	// method and gateway invoice details.
	SetInvoice(ctx context.Context, orderID int64, method, invoiceID, paymentURL string) error
	// MarkPaid moves AWAITING_PAYMENT -> PAID.
	MarkPaid(ctx context.Context, orderID int64, paidAt time.Time) error
	// UpdateStatusFrom is the generic compare-and-swap transition.
	UpdateStatusFrom(ctx context.Context, orderID int64, from, to model.OrderStatus) error
	SetProviderOrderNo(ctx context.Context, orderID int64, orderNo string) error

	// SelectFailedPaid returns FAILED orders whose payment settled:
	// money was taken but no eSIM was issued.
	SelectFailedPaid(ctx context.Context, limit int) ([]model.Order, error)
	// SelectStuckProvisioning returns paid orders holding a provider
	// order number with no linked eSIM yet.
	SelectStuckProvisioning(ctx context.Context, limit int) ([]model.Order, error)
}
