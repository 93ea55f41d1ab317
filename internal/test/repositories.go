package test

import (
	"context"
	"time"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
)

// UserRepositoryStub stores users in-memory for tests.
type UserRepositoryStub struct {
	ByID   map[int64]*model.User
	ByChat map[int64]*model.User
	Next   int64
	Err    error
}

// NewUserRepositoryStub constructs stub repository with initialized maps.
func NewUserRepositoryStub() *UserRepositoryStub {
	return &UserRepositoryStub{
		ByID:   make(map[int64]*model.User),
		ByChat: make(map[int64]*model.User),
		Next:   1,
	}
}

// Add registers a user directly, bypassing GetOrCreate.
func (s *UserRepositoryStub) Add(user *model.User) *model.User {
	if user.ID == 0 {
		user.ID = s.Next
		s.Next++
	}
	s.ByID[user.ID] = user
	s.ByChat[user.ChatID] = user
	return user
}

// GetOrCreate returns the existing user for the chat or registers one.
func (s *UserRepositoryStub) GetOrCreate(ctx context.Context, chatID int64, locale string) (*model.User, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if user, ok := s.ByChat[chatID]; ok {
		return user, nil
	}
	return s.Add(&model.User{ChatID: chatID, Locale: locale}), nil
}

// GetByID fetches user by identifier or returns not found.
func (s *UserRepositoryStub) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if user, ok := s.ByID[id]; ok {
		return user, nil
	}
	return nil, domainErrors.ErrNotFound
}

// GetByChatID fetches user by chat identifier or returns not found.
func (s *UserRepositoryStub) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if user, ok := s.ByChat[chatID]; ok {
		return user, nil
	}
	return nil, domainErrors.ErrNotFound
}

// UpdateLocale changes the stored locale.
func (s *UserRepositoryStub) UpdateLocale(ctx context.Context, id int64, locale string) error {
	if s.Err != nil {
		return s.Err
	}
	user, ok := s.ByID[id]
	if !ok {
		return domainErrors.ErrNotFound
	}
	user.Locale = locale
	return nil
}

// CountryRepositoryStub stores countries in-memory for tests.
type CountryRepositoryStub struct {
	ByCode map[string]*model.Country
	Next   int64
	Err    error
}

// NewCountryRepositoryStub constructs stub repository with initialized maps.
func NewCountryRepositoryStub() *CountryRepositoryStub {
	return &CountryRepositoryStub{ByCode: make(map[string]*model.Country), Next: 1}
}

// Upsert creates or refreshes a country by code.
func (s *CountryRepositoryStub) Upsert(ctx context.Context, country *model.Country) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if existing, ok := s.ByCode[country.Code]; ok {
		country.ID = existing.ID
		s.ByCode[country.Code] = country
		return false, nil
	}
	country.ID = s.Next
	s.Next++
	s.ByCode[country.Code] = country
	return true, nil
}

// GetByCode fetches a country or returns not found.
func (s *CountryRepositoryStub) GetByCode(ctx context.Context, code string) (*model.Country, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if country, ok := s.ByCode[code]; ok {
		return country, nil
	}
	return nil, domainErrors.ErrNotFound
}

// List returns all stored countries.
func (s *CountryRepositoryStub) List(ctx context.Context, availableOnly bool) ([]model.Country, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.Country
	for _, country := range s.ByCode {
		if availableOnly && !country.Available {
			continue
		}
		result = append(result, *country)
	}
	return result, nil
}

// PackageRepositoryStub stores packages in-memory and records sync calls.
type PackageRepositoryStub struct {
	ByID   map[int64]*model.Package
	ByCode map[string]*model.Package
	Next   int64
	Err    error

	SyncFn    func(context.Context, int64, []model.Package) (repository.CatalogSyncStats, error)
	SyncCalls []PackageSyncCall
}

// PackageSyncCall captures one SyncCountry invocation.
type PackageSyncCall struct {
	CountryID int64
	Packages  []model.Package
}

// NewPackageRepositoryStub constructs stub repository with initialized maps.
func NewPackageRepositoryStub() *PackageRepositoryStub {
	return &PackageRepositoryStub{
		ByID:   make(map[int64]*model.Package),
		ByCode: make(map[string]*model.Package),
		Next:   1,
	}
}

// Add registers a package directly.
func (s *PackageRepositoryStub) Add(pkg *model.Package) *model.Package {
	if pkg.ID == 0 {
		pkg.ID = s.Next
		s.Next++
	}
	s.ByID[pkg.ID] = pkg
	s.ByCode[pkg.Code] = pkg
	return pkg
}

// GetByID fetches a package or returns not found.
func (s *PackageRepositoryStub) GetByID(ctx context.Context, id int64) (*model.Package, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if pkg, ok := s.ByID[id]; ok {
		return pkg, nil
	}
	return nil, domainErrors.ErrNotFound
}

// GetByCode fetches a package by local code or returns not found.
func (s *PackageRepositoryStub) GetByCode(ctx context.Context, code string) (*model.Package, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if pkg, ok := s.ByCode[code]; ok {
		return pkg, nil
	}
	return nil, domainErrors.ErrNotFound
}

// ListByCountry returns stored packages of one country.
func (s *PackageRepositoryStub) ListByCountry(ctx context.Context, countryID int64, availableOnly bool) ([]model.Package, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.Package
	for _, pkg := range s.ByID {
		if pkg.CountryID != countryID {
			continue
		}
		if availableOnly && !pkg.Available {
			continue
		}
		result = append(result, *pkg)
	}
	return result, nil
}

// SyncCountry records the call and stores the packages.
func (s *PackageRepositoryStub) SyncCountry(ctx context.Context, countryID int64, packages []model.Package) (repository.CatalogSyncStats, error) {
	s.SyncCalls = append(s.SyncCalls, PackageSyncCall{CountryID: countryID, Packages: packages})
	if s.SyncFn != nil {
		return s.SyncFn(ctx, countryID, packages)
	}
	if s.Err != nil {
		return repository.CatalogSyncStats{}, s.Err
	}
	var stats repository.CatalogSyncStats
	for i := range packages {
		pkg := packages[i]
		pkg.CountryID = countryID
		if _, exists := s.ByCode[pkg.Code]; exists {
			stats.Updated++
		} else {
			stats.Created++
		}
		s.Add(&pkg)
	}
	return stats, nil
}

// OrderRepositoryStub stores orders in-memory and enforces the same
// conditional transitions as the real repository.
type OrderRepositoryStub struct {
	ByID  map[int64]*model.Order
	ByTxn map[string]*model.Order
	Next  int64
	Err   error

	MarkPaidFn         func(context.Context, int64, time.Time) error
	UpdateStatusFromFn func(context.Context, int64, model.OrderStatus, model.OrderStatus) error
	FailedPaidFn       func(context.Context, int) ([]model.Order, error)
	StuckFn            func(context.Context, int) ([]model.Order, error)

	Transitions []OrderTransition
}

// OrderTransition captures one applied status change.
type OrderTransition struct {
	OrderID int64
	From    model.OrderStatus
	To      model.OrderStatus
}

// NewOrderRepositoryStub constructs stub repository with initialized maps.
func NewOrderRepositoryStub() *OrderRepositoryStub {
	return &OrderRepositoryStub{
		ByID:  make(map[int64]*model.Order),
		ByTxn: make(map[string]*model.Order),
		Next:  1,
	}
}

// Add registers an order directly, bypassing Create.
func (s *OrderRepositoryStub) Add(order *model.Order) *model.Order {
	if order.ID == 0 {
		order.ID = s.Next
		s.Next++
	}
	s.ByID[order.ID] = order
	s.ByTxn[order.TransactionID] = order
	return order
}

// Create stores a new order.
func (s *OrderRepositoryStub) Create(ctx context.Context, order *model.Order) (*model.Order, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if _, exists := s.ByTxn[order.TransactionID]; exists {
		return nil, domainErrors.ErrAlreadyExists
	}
	return s.Add(order), nil
}

// GetByID fetches an order or returns not found.
func (s *OrderRepositoryStub) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if order, ok := s.ByID[id]; ok {
		copied := *order
		return &copied, nil
	}
	return nil, domainErrors.ErrNotFound
}

// GetByTransactionID fetches an order or returns not found.
func (s *OrderRepositoryStub) GetByTransactionID(ctx context.Context, transactionID string) (*model.Order, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if order, ok := s.ByTxn[transactionID]; ok {
		copied := *order
		return &copied, nil
	}
	return nil, domainErrors.ErrNotFound
}

// ListByUser returns the user's orders.
func (s *OrderRepositoryStub) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.Order
	for _, order := range s.ByID {
		if order.UserID == userID {
			result = append(result, *order)
		}
	}
	return result, nil
}

func (s *OrderRepositoryStub) transition(orderID int64, from, to model.OrderStatus) (*model.Order, error) {
	order, ok := s.ByID[orderID]
	if !ok {
		return nil, domainErrors.ErrNotFound
	}
	if order.Status != from || !model.CanTransition(from, to) {
		return nil, domainErrors.StateConflictError{
			OrderID:   orderID,
			Current:   string(order.Status),
			Attempted: string(to),
		}
	}
	order.Status = to
	s.Transitions = append(s.Transitions, OrderTransition{OrderID: orderID, From: from, To: to})
	return order, nil
}

// SetInvoice moves CREATED -> AWAITING_PAYMENT with invoice details.
func (s *OrderRepositoryStub) SetInvoice(ctx context.Context, orderID int64, method, invoiceID, paymentURL string) error {
	if s.Err != nil {
		return s.Err
	}
	order, err := s.transition(orderID, model.OrderStatusCreated, model.OrderStatusAwaitingPayment)
	if err != nil {
		return err
	}
	order.PaymentMethod = method
	order.InvoiceID = invoiceID
	order.PaymentURL = paymentURL
	return nil
}

// MarkPaid moves AWAITING_PAYMENT -> PAID.
func (s *OrderRepositoryStub) MarkPaid(ctx context.Context, orderID int64, paidAt time.Time) error {
	if s.MarkPaidFn != nil {
		return s.MarkPaidFn(ctx, orderID, paidAt)
	}
	if s.Err != nil {
		return s.Err
	}
	order, err := s.transition(orderID, model.OrderStatusAwaitingPayment, model.OrderStatusPaid)
	if err != nil {
		return err
	}
	order.PaidAt = &paidAt
	return nil
}

// UpdateStatusFrom applies the generic conditional transition.
func (s *OrderRepositoryStub) UpdateStatusFrom(ctx context.Context, orderID int64, from, to model.OrderStatus) error {
	if s.UpdateStatusFromFn != nil {
		return s.UpdateStatusFromFn(ctx, orderID, from, to)
	}
	if s.Err != nil {
		return s.Err
	}
	_, err := s.transition(orderID, from, to)
	return err
}

// SetProviderOrderNo stores the provider order reference.
func (s *OrderRepositoryStub) SetProviderOrderNo(ctx context.Context, orderID int64, orderNo string) error {
	if s.Err != nil {
		return s.Err
	}
	order, ok := s.ByID[orderID]
	if !ok {
		return domainErrors.ErrNotFound
	}
	order.ProviderOrderNo = orderNo
	return nil
}

// SelectFailedPaid returns failed paid orders claimed to PROCESSING.
func (s *OrderRepositoryStub) SelectFailedPaid(ctx context.Context, limit int) ([]model.Order, error) {
	if s.FailedPaidFn != nil {
		return s.FailedPaidFn(ctx, limit)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.Order
	for _, order := range s.ByID {
		if len(result) >= limit {
			break
		}
		if order.Status == model.OrderStatusFailed && order.PaidAt != nil {
			order.Status = model.OrderStatusProcessing
			result = append(result, *order)
		}
	}
	return result, nil
}

// SelectStuckProvisioning returns the configured stuck orders.
func (s *OrderRepositoryStub) SelectStuckProvisioning(ctx context.Context, limit int) ([]model.Order, error) {
	if s.StuckFn != nil {
		return s.StuckFn(ctx, limit)
	}
	return nil, s.Err
}

// ESimRepositoryStub stores profiles in-memory for tests.
type ESimRepositoryStub struct {
	Items []*model.ESim
	Next  int64
	Err   error
}

// NewESimRepositoryStub constructs an empty stub repository.
func NewESimRepositoryStub() *ESimRepositoryStub {
	return &ESimRepositoryStub{Next: 1}
}

// Add registers a profile directly.
func (s *ESimRepositoryStub) Add(esim *model.ESim) *model.ESim {
	if esim.ID == 0 {
		esim.ID = s.Next
		s.Next++
	}
	s.Items = append(s.Items, esim)
	return esim
}

func (s *ESimRepositoryStub) find(match func(*model.ESim) bool) (*model.ESim, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	for _, esim := range s.Items {
		if match(esim) {
			return esim, nil
		}
	}
	return nil, domainErrors.ErrNotFound
}

// Create stores a new profile, enforcing one profile per order.
func (s *ESimRepositoryStub) Create(ctx context.Context, esim *model.ESim) (*model.ESim, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	for _, existing := range s.Items {
		if existing.OrderID == esim.OrderID {
			return nil, domainErrors.ErrAlreadyExists
		}
	}
	return s.Add(esim), nil
}

// GetByID fetches a profile or returns not found.
func (s *ESimRepositoryStub) GetByID(ctx context.Context, id int64) (*model.ESim, error) {
	return s.find(func(e *model.ESim) bool { return e.ID == id })
}

// GetByOrderID fetches a profile or returns not found.
func (s *ESimRepositoryStub) GetByOrderID(ctx context.Context, orderID int64) (*model.ESim, error) {
	return s.find(func(e *model.ESim) bool { return e.OrderID == orderID })
}

// GetByICCID fetches a profile or returns not found.
func (s *ESimRepositoryStub) GetByICCID(ctx context.Context, iccid string) (*model.ESim, error) {
	return s.find(func(e *model.ESim) bool { return e.ICCID == iccid })
}

// GetByTranNo fetches a profile or returns not found.
func (s *ESimRepositoryStub) GetByTranNo(ctx context.Context, tranNo string) (*model.ESim, error) {
	return s.find(func(e *model.ESim) bool { return e.TranNo == tranNo })
}

// ListByUser is not resolvable without orders; tests seed via Owned.
func (s *ESimRepositoryStub) ListByUser(ctx context.Context, userID int64) ([]model.ESim, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.ESim
	for _, esim := range s.Items {
		result = append(result, *esim)
	}
	return result, nil
}

// ListActive returns profiles still consuming data.
func (s *ESimRepositoryStub) ListActive(ctx context.Context) ([]model.ESim, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var result []model.ESim
	for _, esim := range s.Items {
		if esim.Status.Active() {
			result = append(result, *esim)
		}
	}
	return result, nil
}

// UpdateStatus mutates the stored profile.
func (s *ESimRepositoryStub) UpdateStatus(ctx context.Context, id int64, status model.ESimStatus, smdpStatus string) error {
	esim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	esim.Status = status
	esim.SMDPStatus = smdpStatus
	return nil
}

// UpdateUsage mutates the stored allowance counters.
func (s *ESimRepositoryStub) UpdateUsage(ctx context.Context, id int64, totalBytes, usedBytes int64) error {
	esim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	esim.TotalBytes = totalBytes
	esim.UsedBytes = usedBytes
	return nil
}

// UpdateValidity mutates the stored expiry.
func (s *ESimRepositoryStub) UpdateValidity(ctx context.Context, id int64, expiredAt time.Time) error {
	esim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	esim.ExpiredAt = &expiredAt
	return nil
}

// SetLowDataNotified mutates the notification latch.
func (s *ESimRepositoryStub) SetLowDataNotified(ctx context.Context, id int64, notified bool) error {
	esim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	esim.LowDataNotified = notified
	return nil
}

// ApplyTopup mirrors the real repository's topup semantics.
func (s *ESimRepositoryStub) ApplyTopup(ctx context.Context, id int64, addBytes int64, expiredAt *time.Time) error {
	esim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	esim.TotalBytes += addBytes
	if expiredAt != nil {
		esim.ExpiredAt = expiredAt
	}
	esim.LowDataNotified = false
	if esim.Status == model.ESimStatusDepleted || esim.Status == model.ESimStatusExpired {
		esim.Status = model.ESimStatusActivated
	}
	return nil
}
