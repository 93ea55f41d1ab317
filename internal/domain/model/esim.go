package model

import "time"

// ESimStatus is the local operational status of a provisioned profile.
type ESimStatus string

const (
	ESimStatusProcessing ESimStatus = "PROCESSING"
	ESimStatusActivated  ESimStatus = "ACTIVATED"
	ESimStatusDepleted   ESimStatus = "DEPLETED"
	ESimStatusExpired    ESimStatus = "EXPIRED"
	ESimStatusCanceled   ESimStatus = "CANCELED"
)

// esimStatusMapping translates provider statuses into the local domain.
// Both the webhook path and the polling path go through this table.
var esimStatusMapping = map[string]ESimStatus{
	"IN_USE":         ESimStatusActivated,
	"ENABLED":        ESimStatusActivated,
	"GOT_RESOURCE":   ESimStatusActivated,
	"INSTALLATION":   ESimStatusProcessing,
	"CANCEL":         ESimStatusCanceled,
	"RELEASED":       ESimStatusCanceled,
	"USED_UP":        ESimStatusDepleted,
	"UNUSED_EXPIRED": ESimStatusExpired,
	"USED_EXPIRED":   ESimStatusExpired,
}

// NormalizeESimStatus maps a provider status onto the local enumeration.
// Unknown statuses are passed through verbatim with ok=false so callers
// can log them; they are stored as-is, never guessed.
func NormalizeESimStatus(provider string) (status ESimStatus, ok bool) {
	if mapped, found := esimStatusMapping[provider]; found {
		return mapped, true
	}
	return ESimStatus(provider), false
}

// Active reports whether the profile still consumes data, i.e. the
// usage watch should keep polling it.
func (s ESimStatus) Active() bool {
	return s == ESimStatusActivated
}

// ESim stores the provisioned profile of a completed order.
// At most one row exists per order.
type ESim struct {
	ID              int64
	OrderID         int64
	TranNo          string
	ICCID           string
	ActivationCode  string
	QRCodeURL       string
	ShortURL        string
	SMDPStatus      string
	Status          ESimStatus
	TotalBytes      int64
	UsedBytes       int64
	ExpiredAt       *time.Time
	LowDataNotified bool
	RawPayload      []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingFraction returns the unused share of the data allowance.
// A profile without a known allowance counts as fully available.
func (e ESim) RemainingFraction() float64 {
	if e.TotalBytes <= 0 {
		return 1
	}
	remaining := e.TotalBytes - e.UsedBytes
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(e.TotalBytes)
}
