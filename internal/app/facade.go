package app

import (
	"context"
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
	"github.com/esimlab/esimbroker/internal/usecase"
)

// BrokerFacade is the application boundary: the HTTP layer and the
// background loops both talk to it instead of reaching into use cases
// or repositories directly.
type BrokerFacade struct {
	users     repository.UserRepository
	countries repository.CountryRepository
	packages  repository.PackageRepository
	orders    repository.OrderRepository

	orderUC *usecase.OrderUseCase
	esimUC  *usecase.ESimUseCase
	catalog *usecase.CatalogUseCase
	guard   *usecase.BalanceGuard
}

func NewBrokerFacade(
	users repository.UserRepository,
	countries repository.CountryRepository,
	packages repository.PackageRepository,
	orders repository.OrderRepository,
	orderUC *usecase.OrderUseCase,
	esimUC *usecase.ESimUseCase,
	catalog *usecase.CatalogUseCase,
	guard *usecase.BalanceGuard,
) *BrokerFacade {
	return &BrokerFacade{
		users:     users,
		countries: countries,
		packages:  packages,
		orders:    orders,
		orderUC:   orderUC,
		esimUC:    esimUC,
		catalog:   catalog,
		guard:     guard,
	}
}

func (f *BrokerFacade) ResolveUser(ctx context.Context, chatID int64, locale string) (*model.User, error) {
	return f.users.GetOrCreate(ctx, chatID, locale)
}

func (f *BrokerFacade) Countries(ctx context.Context) ([]model.Country, error) {
	return f.countries.List(ctx, true)
}

func (f *BrokerFacade) Packages(ctx context.Context, countryCode string) ([]model.Package, error) {
	country, err := f.countries.GetByCode(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	return f.packages.ListByCountry(ctx, country.ID, true)
}

func (f *BrokerFacade) SyncCatalog(ctx context.Context) (usecase.CatalogSyncResult, error) {
	return f.catalog.SyncAll(ctx)
}

func (f *BrokerFacade) CreateOrder(ctx context.Context, userID, packageID int64) (*model.Order, error) {
	return f.orderUC.CreateOrder(ctx, userID, packageID)
}

func (f *BrokerFacade) CreateTopup(ctx context.Context, userID int64, iccid string, packageID int64) (*model.Order, error) {
	return f.orderUC.CreateTopup(ctx, userID, iccid, packageID)
}

func (f *BrokerFacade) Order(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	return f.orderUC.GetOrder(ctx, userID, orderID)
}

func (f *BrokerFacade) Orders(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error) {
	return f.orderUC.ListOrders(ctx, userID, limit, offset)
}

func (f *BrokerFacade) CancelOrder(ctx context.Context, userID, orderID int64) error {
	return f.orderUC.CancelForUser(ctx, userID, orderID)
}

// AdminCancelOrder voids any order regardless of owner; a refund
// reference is how paid orders get through.
func (f *BrokerFacade) AdminCancelOrder(ctx context.Context, orderID int64, refundRef string) error {
	return f.orderUC.Cancel(ctx, orderID, refundRef)
}

func (f *BrokerFacade) CheckPayment(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	return f.orderUC.CheckPayment(ctx, userID, orderID)
}

func (f *BrokerFacade) ConfirmPayment(ctx context.Context, transactionID string, paidAt time.Time) error {
	return f.orderUC.ConfirmPayment(ctx, transactionID, paidAt)
}

// CompleteOrderByTransaction finishes an order the provider reported
// ready, resolving it by the transaction ID carried in the callback.
func (f *BrokerFacade) CompleteOrderByTransaction(ctx context.Context, transactionID string) error {
	order, err := f.orders.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	return f.orderUC.FinalizePending(ctx, order)
}

func (f *BrokerFacade) ESims(ctx context.Context, userID int64) ([]model.ESim, error) {
	return f.esimUC.ListESims(ctx, userID)
}

func (f *BrokerFacade) ESim(ctx context.Context, userID int64, iccid string) (*model.ESim, error) {
	return f.esimUC.GetESim(ctx, userID, iccid)
}

func (f *BrokerFacade) SuspendESim(ctx context.Context, userID int64, iccid string) error {
	return f.esimUC.Suspend(ctx, userID, iccid)
}

func (f *BrokerFacade) ResumeESim(ctx context.Context, userID int64, iccid string) error {
	return f.esimUC.Resume(ctx, userID, iccid)
}

func (f *BrokerFacade) SendSMS(ctx context.Context, userID int64, iccid, message string) error {
	return f.esimUC.SendSMS(ctx, userID, iccid, message)
}

func (f *BrokerFacade) ApplyESimStatus(ctx context.Context, tranNo, status, smdpStatus string) error {
	return f.esimUC.ApplyStatus(ctx, tranNo, status, smdpStatus)
}

func (f *BrokerFacade) ApplyESimUsage(ctx context.Context, tranNo string, totalBytes, usedBytes int64) error {
	return f.esimUC.ApplyUsage(ctx, tranNo, totalBytes, usedBytes)
}

func (f *BrokerFacade) ApplyESimValidity(ctx context.Context, tranNo string, expiredAt time.Time) error {
	return f.esimUC.ApplyValidity(ctx, tranNo, expiredAt)
}

func (f *BrokerFacade) StuckOrders(ctx context.Context, limit int) ([]model.Order, error) {
	return f.orders.SelectStuckProvisioning(ctx, limit)
}

func (f *BrokerFacade) FailedPaidOrders(ctx context.Context, limit int) ([]model.Order, error) {
	return f.orders.SelectFailedPaid(ctx, limit)
}

func (f *BrokerFacade) FinalizeOrder(ctx context.Context, order *model.Order) error {
	return f.orderUC.FinalizePending(ctx, order)
}

func (f *BrokerFacade) ReprovisionOrder(ctx context.Context, order *model.Order) error {
	return f.orderUC.Reprovision(ctx, order)
}

func (f *BrokerFacade) PollUsage(ctx context.Context) error {
	return f.esimUC.PollUsage(ctx)
}

func (f *BrokerFacade) CheckBalance(ctx context.Context) error {
	return f.guard.Check(ctx)
}

// ReconcilerFacade adapts the facade to the shape the background loops
// expect; the periodic catalog sync only cares about the error.
type ReconcilerFacade struct {
	*BrokerFacade
}

func (f ReconcilerFacade) SyncCatalog(ctx context.Context) error {
	_, err := f.BrokerFacade.SyncCatalog(ctx)
	return err
}
