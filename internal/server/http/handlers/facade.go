package handlers

import (
	"context"
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/usecase"
)

// UserFacade resolves chat users to accounts.
type UserFacade interface {
	ResolveUser(ctx context.Context, chatID int64, locale string) (*model.User, error)
}

// CatalogFacade exposes the destination catalog.
type CatalogFacade interface {
	Countries(ctx context.Context) ([]model.Country, error)
	Packages(ctx context.Context, countryCode string) ([]model.Package, error)
	SyncCatalog(ctx context.Context) (usecase.CatalogSyncResult, error)
}

// OrderFacade encapsulates order operations exposed via HTTP.
type OrderFacade interface {
	CreateOrder(ctx context.Context, userID, packageID int64) (*model.Order, error)
	CreateTopup(ctx context.Context, userID int64, iccid string, packageID int64) (*model.Order, error)
	Order(ctx context.Context, userID, orderID int64) (*model.Order, error)
	Orders(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) error
	AdminCancelOrder(ctx context.Context, orderID int64, refundRef string) error
	CheckPayment(ctx context.Context, userID, orderID int64) (*model.Order, error)
	ConfirmPayment(ctx context.Context, transactionID string, paidAt time.Time) error
	CompleteOrderByTransaction(ctx context.Context, transactionID string) error
}

// ESimFacade encapsulates profile operations exposed via HTTP.
type ESimFacade interface {
	ESims(ctx context.Context, userID int64) ([]model.ESim, error)
	ESim(ctx context.Context, userID int64, iccid string) (*model.ESim, error)
	SuspendESim(ctx context.Context, userID int64, iccid string) error
	ResumeESim(ctx context.Context, userID int64, iccid string) error
	SendSMS(ctx context.Context, userID int64, iccid, message string) error

	ApplyESimStatus(ctx context.Context, tranNo, status, smdpStatus string) error
	ApplyESimUsage(ctx context.Context, tranNo string, totalBytes, usedBytes int64) error
	ApplyESimValidity(ctx context.Context, tranNo string, expiredAt time.Time) error
}

// BrokerFacade aggregates the full set of operations used across handlers.
type BrokerFacade interface {
	UserFacade
	CatalogFacade
	OrderFacade
	ESimFacade
}
