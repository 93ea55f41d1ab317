package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrNoData        = errors.New("provider returned no data")
)

// TransportError marks a network-level failure talking to an external
// API. Recovered by the offline sweeps, never surfaced to end users as
// a definitive failure.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// ProviderErrorKind classifies structured errors returned by the
// provisioning API.
type ProviderErrorKind int

const (
	ProviderUnknown ProviderErrorKind = iota
	ProviderInsufficientBalance
	ProviderInvalidPackageCode
	ProviderDuplicateRequest
	ProviderPending
)

func (k ProviderErrorKind) String() string {
	switch k {
	case ProviderInsufficientBalance:
		return "insufficient balance"
	case ProviderInvalidPackageCode:
		return "invalid package code"
	case ProviderDuplicateRequest:
		return "duplicate request"
	case ProviderPending:
		return "still pending"
	default:
		return "unknown"
	}
}

// ProviderError carries the provider's own error code and message
// verbatim for operator diagnosis; end users never see it.
type ProviderError struct {
	Kind    ProviderErrorKind
	Code    string
	Message string
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s) %s: %s", e.Kind, e.Code, e.Message)
}

// DataIntegrityError signals an expected field missing or malformed in
// a provider response, e.g. a completed order without an ICCID.
type DataIntegrityError struct {
	Field  string
	Detail string
}

func (e DataIntegrityError) Error() string {
	return fmt.Sprintf("provider payload integrity: field %q %s", e.Field, e.Detail)
}

// PaymentError signals the payment gateway rejected or could not
// confirm an operation.
type PaymentError struct {
	Reason string
	Err    error
}

func (e PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("payment: %s", e.Reason)
}

func (e PaymentError) Unwrap() error { return e.Err }

// StateConflictError reports an order status transition that is not
// valid for the order's current status.
type StateConflictError struct {
	OrderID   int64
	Current   string
	Attempted string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("order %d: cannot transition %s -> %s", e.OrderID, e.Current, e.Attempted)
}

// Retryable reports whether the failure should be resolved by a later
// sweep instead of failing the order.
func Retryable(err error) bool {
	var transport TransportError
	if errors.As(err, &transport) {
		return true
	}
	var provider ProviderError
	if errors.As(err, &provider) {
		return provider.Kind == ProviderPending
	}
	return false
}
