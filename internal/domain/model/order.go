package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus describes the order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// Terminal reports whether no further transition is allowed.
// FAILED is not terminal: the recovery sweep may still drive a paid
// order to completion.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

// CanTransition validates a single status move. Every status mutation
// must pass through this check; callers pair it with a conditional
// update so concurrent paths cannot race past each other.
func CanTransition(from, to OrderStatus) bool {
	if from == to || from.Terminal() {
		return false
	}
	if to == OrderStatusFailed || to == OrderStatusCanceled {
		return true
	}
	switch from {
	case OrderStatusCreated:
		return to == OrderStatusAwaitingPayment
	case OrderStatusAwaitingPayment:
		return to == OrderStatusPaid
	case OrderStatusPaid:
		return to == OrderStatusProcessing
	case OrderStatusProcessing:
		return to == OrderStatusCompleted
	case OrderStatusFailed:
		return to == OrderStatusProcessing
	}
	return false
}

// OrderType distinguishes a new eSIM purchase from a data topup.
type OrderType string

const (
	OrderTypeNew   OrderType = "NEW"
	OrderTypeTopup OrderType = "TOPUP"
)

// Order describes a purchase registered by a user.
type Order struct {
	ID              int64
	UserID          int64
	PackageID       int64
	TransactionID   string
	Type            OrderType
	TopupESimID     *int64
	Status          OrderStatus
	PaymentMethod   string
	InvoiceID       string
	PaymentURL      string
	PaidAt          *time.Time
	AmountUSD       decimal.Decimal
	ProviderOrderNo string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
