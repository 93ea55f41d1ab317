package repository

import (
	"context"
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// ESimRepository describes persistence operations with eSIM profiles.
type ESimRepository interface {
	// Create inserts the profile for its order. A second insert for the
	// same order returns ErrAlreadyExists, keeping the at-most-one
	// invariant even under concurrent sweeps.
	Create(ctx context.Context, esim *model.ESim) (*model.ESim, error)
	GetByID(ctx context.Context, id int64) (*model.ESim, error)
	GetByOrderID(ctx context.Context, orderID int64) (*model.ESim, error)
	GetByICCID(ctx context.Context, iccid string) (*model.ESim, error)
	GetByTranNo(ctx context.Context, tranNo string) (*model.ESim, error)
	ListByUser(ctx context.Context, userID int64) ([]model.ESim, error)
	ListActive(ctx context.Context) ([]model.ESim, error)

	UpdateStatus(ctx context.Context, id int64, status model.ESimStatus, smdpStatus string) error
	UpdateUsage(ctx context.Context, id int64, totalBytes, usedBytes int64) error
	UpdateValidity(ctx context.Context, id int64, expiredAt time.Time) error
	SetLowDataNotified(ctx context.Context, id int64, notified bool) error
	// ApplyTopup extends the allowance after a successful topup and
	// re-arms the low-data notification latch.
	ApplyTopup(ctx context.Context, id int64, addBytes int64, expiredAt *time.Time) error
}
