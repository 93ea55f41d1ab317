package test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

// ProviderClientStub provides controllable provider behaviour.
type ProviderClientStub struct {
	ListPackagesFn  func(context.Context, string) ([]provider.PackagePayload, error)
	CreateOrderFn   func(context.Context, string, string, int, int64) (*provider.OrderResult, error)
	QueryProfilesFn func(context.Context, provider.ProfileQuery) ([]provider.ProfilePayload, error)
	TopupFn         func(context.Context, string, string, string, int64) (*provider.OrderResult, error)
	CancelFn        func(context.Context, string) error
	SuspendFn       func(context.Context, string) error
	ResumeFn        func(context.Context, string) error
	SendSMSFn       func(context.Context, string, string) error
	BalanceFn       func(context.Context) (int64, error)

	CreateOrderCalls []string
	TopupCalls       []string
	QueryCalls       []provider.ProfileQuery
	CancelCalls      []string
	SuspendCalls     []string
	ResumeCalls      []string
	SMSCalls         []string
	WebhookCalls     []string
}

// ListPackages delegates to the override or returns an empty catalog.
func (s *ProviderClientStub) ListPackages(ctx context.Context, locationCode string) ([]provider.PackagePayload, error) {
	if s.ListPackagesFn != nil {
		return s.ListPackagesFn(ctx, locationCode)
	}
	return nil, nil
}

// CreateOrder records the transaction ID and delegates to the override.
func (s *ProviderClientStub) CreateOrder(ctx context.Context, transactionID, packageCode string, count int, amount int64) (*provider.OrderResult, error) {
	s.CreateOrderCalls = append(s.CreateOrderCalls, transactionID)
	if s.CreateOrderFn != nil {
		return s.CreateOrderFn(ctx, transactionID, packageCode, count, amount)
	}
	return &provider.OrderResult{OrderNo: "ORD-" + transactionID}, nil
}

// QueryProfiles records the query and delegates to the override.
func (s *ProviderClientStub) QueryProfiles(ctx context.Context, q provider.ProfileQuery) ([]provider.ProfilePayload, error) {
	s.QueryCalls = append(s.QueryCalls, q)
	if s.QueryProfilesFn != nil {
		return s.QueryProfilesFn(ctx, q)
	}
	return nil, nil
}

// Topup records the transaction ID and delegates to the override.
func (s *ProviderClientStub) Topup(ctx context.Context, esimTranNo, transactionID, packageCode string, amount int64) (*provider.OrderResult, error) {
	s.TopupCalls = append(s.TopupCalls, transactionID)
	if s.TopupFn != nil {
		return s.TopupFn(ctx, esimTranNo, transactionID, packageCode, amount)
	}
	return &provider.OrderResult{OrderNo: "TOP-" + transactionID}, nil
}

// Cancel records the profile reference.
func (s *ProviderClientStub) Cancel(ctx context.Context, esimTranNo string) error {
	s.CancelCalls = append(s.CancelCalls, esimTranNo)
	if s.CancelFn != nil {
		return s.CancelFn(ctx, esimTranNo)
	}
	return nil
}

// Suspend records the profile reference.
func (s *ProviderClientStub) Suspend(ctx context.Context, esimTranNo string) error {
	s.SuspendCalls = append(s.SuspendCalls, esimTranNo)
	if s.SuspendFn != nil {
		return s.SuspendFn(ctx, esimTranNo)
	}
	return nil
}

// Resume records the profile reference.
func (s *ProviderClientStub) Resume(ctx context.Context, esimTranNo string) error {
	s.ResumeCalls = append(s.ResumeCalls, esimTranNo)
	if s.ResumeFn != nil {
		return s.ResumeFn(ctx, esimTranNo)
	}
	return nil
}

// SendSMS records the target ICCID.
func (s *ProviderClientStub) SendSMS(ctx context.Context, iccid, message string) error {
	s.SMSCalls = append(s.SMSCalls, iccid)
	if s.SendSMSFn != nil {
		return s.SendSMSFn(ctx, iccid, message)
	}
	return nil
}

// Balance delegates to the override or reports a comfortable balance.
func (s *ProviderClientStub) Balance(ctx context.Context) (int64, error) {
	if s.BalanceFn != nil {
		return s.BalanceFn(ctx)
	}
	return 1_000_0000, nil
}

// RegisterWebhook records the callback URL.
func (s *ProviderClientStub) RegisterWebhook(ctx context.Context, webhookURL string) error {
	s.WebhookCalls = append(s.WebhookCalls, webhookURL)
	return nil
}

// PaymentGatewayStub provides controllable invoice behaviour.
type PaymentGatewayStub struct {
	CreateInvoiceFn func(context.Context, decimal.Decimal, string, string) (*payment.Invoice, error)
	GetInvoiceFn    func(context.Context, int64) (*payment.Invoice, error)

	CreatedPayloads []string
	NextID          int64
}

// CreateInvoice records the payload and returns an active invoice.
func (s *PaymentGatewayStub) CreateInvoice(ctx context.Context, amountUSD decimal.Decimal, payload, description string) (*payment.Invoice, error) {
	s.CreatedPayloads = append(s.CreatedPayloads, payload)
	if s.CreateInvoiceFn != nil {
		return s.CreateInvoiceFn(ctx, amountUSD, payload, description)
	}
	s.NextID++
	return &payment.Invoice{
		ID:      s.NextID,
		Status:  payment.InvoiceStatusActive,
		Amount:  amountUSD,
		Asset:   "USD",
		PayURL:  "https://pay.example/" + payload,
		Payload: payload,
	}, nil
}

// GetInvoice delegates to the override or returns a paid invoice.
func (s *PaymentGatewayStub) GetInvoice(ctx context.Context, invoiceID int64) (*payment.Invoice, error) {
	if s.GetInvoiceFn != nil {
		return s.GetInvoiceFn(ctx, invoiceID)
	}
	paidAt := time.Unix(0, 0)
	return &payment.Invoice{ID: invoiceID, Status: payment.InvoiceStatusPaid, PaidAt: &paidAt}, nil
}

// NotificationRecord captures one user notification.
type NotificationRecord struct {
	Type   string
	ChatID int64
	Detail string
}

// UserNotifierRecorder records user notifications for assertions.
type UserNotifierRecorder struct {
	mu     sync.Mutex
	Events []NotificationRecord
	Err    error
}

func (r *UserNotifierRecorder) record(kind string, chatID int64, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, NotificationRecord{Type: kind, ChatID: chatID, Detail: detail})
	return r.Err
}

// Types returns the recorded notification kinds in order.
func (r *UserNotifierRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		types = append(types, ev.Type)
	}
	return types
}

// ESimReady records the event.
func (r *UserNotifierRecorder) ESimReady(ctx context.Context, user *model.User, order *model.Order, esim *model.ESim) error {
	return r.record("esim_ready", user.ChatID, esim.ICCID)
}

// OrderFailed records the event.
func (r *UserNotifierRecorder) OrderFailed(ctx context.Context, user *model.User, order *model.Order, reason string) error {
	return r.record("order_failed", user.ChatID, reason)
}

// TopupApplied records the event.
func (r *UserNotifierRecorder) TopupApplied(ctx context.Context, user *model.User, esim *model.ESim) error {
	return r.record("topup_applied", user.ChatID, esim.ICCID)
}

// ESimStatusChanged records the event.
func (r *UserNotifierRecorder) ESimStatusChanged(ctx context.Context, user *model.User, esim *model.ESim) error {
	return r.record("esim_status", user.ChatID, string(esim.Status))
}

// LowData records the event.
func (r *UserNotifierRecorder) LowData(ctx context.Context, user *model.User, esim *model.ESim, remaining float64) error {
	return r.record("low_data", user.ChatID, esim.ICCID)
}

// OperatorAlerterRecorder records operator alerts for assertions.
type OperatorAlerterRecorder struct {
	mu       sync.Mutex
	Subjects []string
	Err      error
}

// Alert records the subject.
func (r *OperatorAlerterRecorder) Alert(ctx context.Context, subject, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subjects = append(r.Subjects, subject)
	return r.Err
}

// Count returns the number of recorded alerts.
func (r *OperatorAlerterRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Subjects)
}

// ReconcilerFacadeStub mimics the application facade driven by the
// background loops. All counters are safe for concurrent access.
type ReconcilerFacadeStub struct {
	mu sync.Mutex

	Stuck      [][]model.Order
	FailedPaid [][]model.Order

	StuckFn      func(context.Context, int) ([]model.Order, error)
	FailedPaidFn func(context.Context, int) ([]model.Order, error)
	FinalizeFn   func(context.Context, *model.Order) error
	ReprovisionFn func(context.Context, *model.Order) error

	Finalized     []int64
	Reprovisioned []int64
	SyncCalls     int
	UsageCalls    int
	BalanceCalls  int

	stuckCall  int
	failedCall int
}

// Lock exposes the internal mutex for external synchronization.
func (s *ReconcilerFacadeStub) Lock() { s.mu.Lock() }

// Unlock releases a previously acquired lock.
func (s *ReconcilerFacadeStub) Unlock() { s.mu.Unlock() }

// StuckOrders returns the next configured batch.
func (s *ReconcilerFacadeStub) StuckOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if s.StuckFn != nil {
		return s.StuckFn(ctx, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stuckCall < len(s.Stuck) {
		batch := s.Stuck[s.stuckCall]
		s.stuckCall++
		return batch, nil
	}
	return nil, nil
}

// FailedPaidOrders returns the next configured batch.
func (s *ReconcilerFacadeStub) FailedPaidOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if s.FailedPaidFn != nil {
		return s.FailedPaidFn(ctx, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedCall < len(s.FailedPaid) {
		batch := s.FailedPaid[s.failedCall]
		s.failedCall++
		return batch, nil
	}
	return nil, nil
}

// FinalizeOrder records the invocation.
func (s *ReconcilerFacadeStub) FinalizeOrder(ctx context.Context, order *model.Order) error {
	if s.FinalizeFn != nil {
		return s.FinalizeFn(ctx, order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finalized = append(s.Finalized, order.ID)
	return nil
}

// ReprovisionOrder records the invocation.
func (s *ReconcilerFacadeStub) ReprovisionOrder(ctx context.Context, order *model.Order) error {
	if s.ReprovisionFn != nil {
		return s.ReprovisionFn(ctx, order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reprovisioned = append(s.Reprovisioned, order.ID)
	return nil
}

// SyncCatalog counts the invocation.
func (s *ReconcilerFacadeStub) SyncCatalog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SyncCalls++
	return nil
}

// PollUsage counts the invocation.
func (s *ReconcilerFacadeStub) PollUsage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UsageCalls++
	return nil
}

// CheckBalance counts the invocation.
func (s *ReconcilerFacadeStub) CheckBalance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BalanceCalls++
	return nil
}

// CooldownStoreStub grants or denies alert slots deterministically.
type CooldownStoreStub struct {
	Granted bool
	Err     error
	Keys    []string
}

// Acquire records the key and returns the configured outcome.
func (s *CooldownStoreStub) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.Keys = append(s.Keys, key)
	return s.Granted, s.Err
}
