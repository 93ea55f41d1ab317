package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// CreateOrderRequest opens a new purchase for a chat user.
type CreateOrderRequest struct {
	ChatID    int64  `json:"chat_id" binding:"required"`
	PackageID int64  `json:"package_id" binding:"required"`
	Locale    string `json:"locale"`
}

// CreateTopupRequest opens a data topup for an existing profile.
type CreateTopupRequest struct {
	ChatID    int64  `json:"chat_id" binding:"required"`
	ICCID     string `json:"iccid" binding:"required"`
	PackageID int64  `json:"package_id" binding:"required"`
}

// CancelOrderRequest voids the chat user's own unpaid order.
type CancelOrderRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

// AdminCancelOrderRequest voids any order; RefundRef is mandatory once
// the order was paid.
type AdminCancelOrderRequest struct {
	RefundRef string `json:"refund_ref"`
}

// CheckPaymentRequest asks for an on-demand invoice status poll.
type CheckPaymentRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

// OrderResponse is the wire form of one order.
type OrderResponse struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	PackageID     int64           `json:"package_id"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToOrderResponse converts the domain order.
func ToOrderResponse(order model.Order) OrderResponse {
	return OrderResponse{
		ID:            order.ID,
		TransactionID: order.TransactionID,
		Type:          string(order.Type),
		Status:        string(order.Status),
		PackageID:     order.PackageID,
		AmountUSD:     order.AmountUSD,
		PaymentURL:    order.PaymentURL,
		InvoiceID:     order.InvoiceID,
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
	}
}
