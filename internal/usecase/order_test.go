package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/test"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type orderFixture struct {
	orders   *test.OrderRepositoryStub
	packages *test.PackageRepositoryStub
	esims    *test.ESimRepositoryStub
	users    *test.UserRepositoryStub
	client   *test.ProviderClientStub
	gateway  *test.PaymentGatewayStub
	notifier *test.UserNotifierRecorder
	alerter  *test.OperatorAlerterRecorder
	uc       *OrderUseCase
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	f := &orderFixture{
		orders:   test.NewOrderRepositoryStub(),
		packages: test.NewPackageRepositoryStub(),
		esims:    test.NewESimRepositoryStub(),
		users:    test.NewUserRepositoryStub(),
		client:   &test.ProviderClientStub{},
		gateway:  &test.PaymentGatewayStub{},
		notifier: &test.UserNotifierRecorder{},
		alerter:  &test.OperatorAlerterRecorder{},
	}
	guard := NewBalanceGuard(f.client, f.alerter, &test.CooldownStoreStub{Granted: true},
		decimal.NewFromInt(10), decimal.NewFromInt(50), time.Hour, testLogger())
	f.uc = NewOrderUseCase(f.orders, f.packages, f.esims, f.users,
		f.client, f.gateway, guard, f.notifier, f.alerter, testLogger())

	f.users.Add(&model.User{ID: 1, ChatID: 100})
	f.packages.Add(&model.Package{
		ID:           1,
		CountryID:    1,
		Code:         "TH-5GB-30D",
		ProviderCode: "TH-5GB-30D",
		Name:         "Thailand 5GB",
		DataGB:       decimal.NewFromInt(5),
		DurationDays: 30,
		WholesaleUSD: decimal.RequireFromString("6.50"),
		RetailUSD:    decimal.RequireFromString("13.00"),
		Available:    true,
	})
	return f
}

func (f *orderFixture) paidOrder(t *testing.T) *model.Order {
	t.Helper()

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.uc.ConfirmPayment(context.Background(), order.TransactionID, time.Now()); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return f.orders.ByID[order.ID]
}

func TestCreateOrderIssuesInvoice(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != model.OrderStatusAwaitingPayment {
		t.Fatalf("expected AWAITING_PAYMENT, got %s", order.Status)
	}
	if order.TransactionID == "" {
		t.Fatal("expected a transaction ID")
	}
	if order.PaymentURL == "" || order.InvoiceID == "" {
		t.Fatalf("expected invoice details, got %+v", order)
	}
	if !order.AmountUSD.Equal(decimal.RequireFromString("13.00")) {
		t.Fatalf("expected retail price, got %s", order.AmountUSD)
	}
	if len(f.gateway.CreatedPayloads) != 1 || f.gateway.CreatedPayloads[0] != order.TransactionID {
		t.Fatalf("invoice payload should carry the transaction ID: %v", f.gateway.CreatedPayloads)
	}
}

func TestCreateOrderBlockedByLowBalance(t *testing.T) {
	f := newOrderFixture(t)
	f.client.BalanceFn = func(context.Context) (int64, error) {
		return 120000, nil // 12 USD, floor 10, wholesale 6.50
	}

	_, err := f.uc.CreateOrder(context.Background(), 1, 1)
	var providerErr apperrors.ProviderError
	if !errors.As(err, &providerErr) || providerErr.Kind != apperrors.ProviderInsufficientBalance {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if len(f.gateway.CreatedPayloads) != 0 {
		t.Fatal("no invoice should be issued when the balance is short")
	}
}

func TestCreateOrderUnavailablePackage(t *testing.T) {
	f := newOrderFixture(t)
	f.packages.ByID[1].Available = false

	if _, err := f.uc.CreateOrder(context.Background(), 1, 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmPaymentProvisionsSynchronously(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(_ context.Context, transactionID, _ string, _ int, _ int64) (*provider.OrderResult, error) {
		return &provider.OrderResult{
			OrderNo: "B123",
			Profiles: []provider.ProfilePayload{{
				EsimTranNo:  "T1",
				ICCID:       "8910000000001",
				AC:          "LPA:1$smdp.example$CODE",
				EsimStatus:  "GOT_RESOURCE",
				TotalVolume: 5 << 30,
			}},
		}, nil
	}

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.uc.ConfirmPayment(context.Background(), order.TransactionID, time.Now()); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	stored := f.orders.ByID[order.ID]
	if stored.Status != model.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.ProviderOrderNo != "B123" {
		t.Fatalf("expected provider order no recorded, got %q", stored.ProviderOrderNo)
	}
	esim, err := f.esims.GetByOrderID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("esim should exist: %v", err)
	}
	if esim.Status != model.ESimStatusActivated {
		t.Fatalf("expected ACTIVATED, got %s", esim.Status)
	}
	if got := f.notifier.Types(); len(got) != 1 || got[0] != "esim_ready" {
		t.Fatalf("expected one esim_ready notification, got %v", got)
	}
}

func TestConfirmPaymentReplayedWebhook(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.uc.ConfirmPayment(context.Background(), order.TransactionID, time.Now()); err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
	}

	if len(f.client.CreateOrderCalls) != 1 {
		t.Fatalf("provider order must be placed exactly once, got %d", len(f.client.CreateOrderCalls))
	}
}

func TestProvisionAsyncThenFinalize(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(_ context.Context, transactionID, _ string, _ int, _ int64) (*provider.OrderResult, error) {
		return &provider.OrderResult{OrderNo: "B777"}, nil
	}

	stored := f.paidOrder(t)
	if stored.Status != model.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING while awaiting allocation, got %s", stored.Status)
	}

	f.client.QueryProfilesFn = func(_ context.Context, q provider.ProfileQuery) ([]provider.ProfilePayload, error) {
		if q.OrderNo != "B777" {
			t.Fatalf("expected lookup by provider order no, got %+v", q)
		}
		return []provider.ProfilePayload{{
			EsimTranNo: "T2",
			ICCID:      "8910000000002",
			AC:         "LPA:1$smdp.example$CODE2",
			EsimStatus: "GOT_RESOURCE",
		}}, nil
	}
	if err := f.uc.FinalizePending(context.Background(), stored); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if f.orders.ByID[stored.ID].Status != model.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED after finalize, got %s", f.orders.ByID[stored.ID].Status)
	}
}

func TestFinalizePendingNotAllocatedYet(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return &provider.OrderResult{OrderNo: "B778"}, nil
	}
	stored := f.paidOrder(t)

	if err := f.uc.FinalizePending(context.Background(), stored); err != nil {
		t.Fatalf("an unallocated order is not an error: %v", err)
	}
	if f.orders.ByID[stored.ID].Status != model.OrderStatusProcessing {
		t.Fatalf("order must stay PROCESSING, got %s", f.orders.ByID[stored.ID].Status)
	}
}

func TestProviderRejectionFailsOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return nil, apperrors.ProviderError{Kind: apperrors.ProviderInvalidPackageCode, Code: "200007"}
	}

	stored := f.paidOrder(t)
	if stored.Status != model.OrderStatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if got := f.notifier.Types(); len(got) != 1 || got[0] != "order_failed" {
		t.Fatalf("expected order_failed notification, got %v", got)
	}
	if f.alerter.Count() == 0 {
		t.Fatal("a rejected paid order must alert the operator")
	}
}

func TestTransportFailureDefersWithoutUserNoise(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return nil, apperrors.TransportError{Op: "order", Err: errors.New("connection reset")}
	}

	stored := f.paidOrder(t)
	if stored.Status != model.OrderStatusFailed {
		t.Fatalf("expected FAILED pending recovery, got %s", stored.Status)
	}
	if got := f.notifier.Types(); len(got) != 0 {
		t.Fatalf("transient failures must not notify the user, got %v", got)
	}
}

func TestDuplicateRequestRecoversProfile(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return nil, apperrors.ProviderError{Kind: apperrors.ProviderDuplicateRequest, Code: "200013"}
	}
	f.client.QueryProfilesFn = func(_ context.Context, q provider.ProfileQuery) ([]provider.ProfilePayload, error) {
		if q.TransactionID == "" {
			t.Fatalf("duplicate resolution must query by transaction ID, got %+v", q)
		}
		return []provider.ProfilePayload{{
			OrderNo:    "B900",
			EsimTranNo: "T9",
			ICCID:      "8910000000009",
			AC:         "LPA:1$smdp.example$CODE9",
			EsimStatus: "GOT_RESOURCE",
		}}, nil
	}

	stored := f.paidOrder(t)
	if stored.Status != model.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED via duplicate recovery, got %s", stored.Status)
	}
	if stored.ProviderOrderNo != "B900" {
		t.Fatalf("expected recovered order no, got %q", stored.ProviderOrderNo)
	}
}

func TestRecoverySweepRetriesFailedPaidOrder(t *testing.T) {
	f := newOrderFixture(t)
	calls := 0
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		calls++
		if calls == 1 {
			return nil, apperrors.TransportError{Op: "order", Err: errors.New("timeout")}
		}
		return &provider.OrderResult{
			OrderNo: "B321",
			Profiles: []provider.ProfilePayload{{
				EsimTranNo: "T3",
				ICCID:      "8910000000003",
				AC:         "LPA:1$smdp.example$CODE3",
				EsimStatus: "GOT_RESOURCE",
			}},
		}, nil
	}

	stored := f.paidOrder(t)
	if stored.Status != model.OrderStatusFailed {
		t.Fatalf("expected FAILED after the first attempt, got %s", stored.Status)
	}

	claimed, err := f.orders.SelectFailedPaid(context.Background(), 10)
	if err != nil {
		t.Fatalf("select failed paid: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed order, got %d", len(claimed))
	}
	if err := f.uc.Reprovision(context.Background(), &claimed[0]); err != nil {
		t.Fatalf("reprovision: %v", err)
	}
	if f.orders.ByID[stored.ID].Status != model.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED after retry, got %s", f.orders.ByID[stored.ID].Status)
	}
}

func TestTopupLifecycle(t *testing.T) {
	f := newOrderFixture(t)

	parent := f.orders.Add(&model.Order{
		UserID:        1,
		PackageID:     1,
		TransactionID: "txn-parent",
		Type:          model.OrderTypeNew,
		Status:        model.OrderStatusCompleted,
	})
	f.esims.Add(&model.ESim{
		OrderID:         parent.ID,
		TranNo:          "T-PARENT",
		ICCID:           "8910000000042",
		Status:          model.ESimStatusDepleted,
		TotalBytes:      5 << 30,
		UsedBytes:       5 << 30,
		LowDataNotified: true,
	})

	order, err := f.uc.CreateTopup(context.Background(), 1, "8910000000042", 1)
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	if order.Type != model.OrderTypeTopup || order.TopupESimID == nil {
		t.Fatalf("expected a topup order, got %+v", order)
	}
	if err := f.uc.ConfirmPayment(context.Background(), order.TransactionID, time.Now()); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	if f.orders.ByID[order.ID].Status != model.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", f.orders.ByID[order.ID].Status)
	}
	esim, _ := f.esims.GetByICCID(context.Background(), "8910000000042")
	if esim.TotalBytes != 10<<30 {
		t.Fatalf("expected allowance extended to 10GB, got %d", esim.TotalBytes)
	}
	if esim.Status != model.ESimStatusActivated {
		t.Fatalf("a depleted profile must reactivate after topup, got %s", esim.Status)
	}
	if esim.LowDataNotified {
		t.Fatal("topup must re-arm the low data latch")
	}
	if got := f.notifier.Types(); len(got) != 1 || got[0] != "topup_applied" {
		t.Fatalf("expected topup_applied, got %v", got)
	}
	if len(f.client.TopupCalls) != 1 {
		t.Fatalf("expected one provider topup, got %d", len(f.client.TopupCalls))
	}
}

func TestCreateTopupForeignProfile(t *testing.T) {
	f := newOrderFixture(t)
	f.users.Add(&model.User{ID: 2, ChatID: 200})
	parent := f.orders.Add(&model.Order{UserID: 2, PackageID: 1, TransactionID: "txn-other", Status: model.OrderStatusCompleted})
	f.esims.Add(&model.ESim{OrderID: parent.ID, TranNo: "T-X", ICCID: "8910000000077", Status: model.ESimStatusActivated})

	if _, err := f.uc.CreateTopup(context.Background(), 1, "8910000000077", 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("foreign profiles must look nonexistent, got %v", err)
	}
}

func TestCancelUnpaidOrder(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.uc.Cancel(context.Background(), order.ID, ""); err != nil {
		t.Fatalf("cancel unpaid: %v", err)
	}
	if f.orders.ByID[order.ID].Status != model.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", f.orders.ByID[order.ID].Status)
	}
	if f.alerter.Count() != 0 {
		t.Fatal("unpaid cancellations need no operator involvement")
	}
}

func TestCancelPaidOrderRequiresRefundReference(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return &provider.OrderResult{OrderNo: "B1"}, nil
	}
	stored := f.paidOrder(t)

	var paymentErr apperrors.PaymentError
	if err := f.uc.Cancel(context.Background(), stored.ID, ""); !errors.As(err, &paymentErr) {
		t.Fatalf("expected a payment error, got %v", err)
	}

	if err := f.uc.Cancel(context.Background(), stored.ID, "refund-42"); err != nil {
		t.Fatalf("cancel with refund reference: %v", err)
	}
	if f.orders.ByID[stored.ID].Status != model.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", f.orders.ByID[stored.ID].Status)
	}
	if f.alerter.Count() == 0 {
		t.Fatal("a refunded cancellation must alert the operator")
	}
}

func TestCancelReleasesIssuedProfile(t *testing.T) {
	f := newOrderFixture(t)
	order := f.orders.Add(&model.Order{
		UserID:        1,
		PackageID:     1,
		TransactionID: "txn-issued",
		Status:        model.OrderStatusProcessing,
	})
	f.esims.Add(&model.ESim{OrderID: order.ID, TranNo: "T-REL", ICCID: "8910000000055", Status: model.ESimStatusActivated})

	if err := f.uc.Cancel(context.Background(), order.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.client.CancelCalls) != 1 || f.client.CancelCalls[0] != "T-REL" {
		t.Fatalf("the issued profile must be released at the provider, got %v", f.client.CancelCalls)
	}
	esim, _ := f.esims.GetByTranNo(context.Background(), "T-REL")
	if esim.Status != model.ESimStatusCanceled {
		t.Fatalf("expected CANCELED profile, got %s", esim.Status)
	}
}

func TestCancelForUserOwnOrder(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.uc.CancelForUser(context.Background(), 1, order.ID); err != nil {
		t.Fatalf("cancel own order: %v", err)
	}
	if f.orders.ByID[order.ID].Status != model.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", f.orders.ByID[order.ID].Status)
	}
}

func TestCancelForUserForeignOrder(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.uc.CancelForUser(context.Background(), 2, order.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for a foreign order, got %v", err)
	}
	if f.orders.ByID[order.ID].Status != model.OrderStatusAwaitingPayment {
		t.Fatalf("foreign cancel must not touch the order, got %s", f.orders.ByID[order.ID].Status)
	}
}

func TestCancelForUserPaidOrderRefused(t *testing.T) {
	f := newOrderFixture(t)
	f.client.CreateOrderFn = func(context.Context, string, string, int, int64) (*provider.OrderResult, error) {
		return &provider.OrderResult{OrderNo: "B2"}, nil
	}
	stored := f.paidOrder(t)

	var paymentErr apperrors.PaymentError
	if err := f.uc.CancelForUser(context.Background(), 1, stored.ID); !errors.As(err, &paymentErr) {
		t.Fatalf("paid orders must not self-cancel without a refund, got %v", err)
	}
}

func TestCheckPaymentSettlesMissedWebhook(t *testing.T) {
	f := newOrderFixture(t)
	var polled int64
	f.gateway.GetInvoiceFn = func(_ context.Context, invoiceID int64) (*payment.Invoice, error) {
		polled = invoiceID
		paidAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		return &payment.Invoice{ID: invoiceID, Status: payment.InvoiceStatusPaid, PaidAt: &paidAt}, nil
	}

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	refreshed, err := f.uc.CheckPayment(context.Background(), 1, order.ID)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if polled != 1 {
		t.Fatalf("expected invoice 1 to be polled, got %d", polled)
	}
	stored := f.orders.ByID[order.ID]
	if stored.PaidAt == nil {
		t.Fatal("a settled invoice must record the payment")
	}
	if refreshed.Status != model.OrderStatusProcessing {
		t.Fatalf("expected provisioning to start, got %s", refreshed.Status)
	}
}

func TestCheckPaymentActiveInvoiceLeavesOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.gateway.GetInvoiceFn = func(_ context.Context, invoiceID int64) (*payment.Invoice, error) {
		return &payment.Invoice{ID: invoiceID, Status: payment.InvoiceStatusActive}, nil
	}

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	refreshed, err := f.uc.CheckPayment(context.Background(), 1, order.ID)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if refreshed.Status != model.OrderStatusAwaitingPayment {
		t.Fatalf("an unpaid invoice must change nothing, got %s", refreshed.Status)
	}
	if f.orders.ByID[order.ID].PaidAt != nil {
		t.Fatal("no payment must be recorded for an active invoice")
	}
}

func TestCheckPaymentForeignOrder(t *testing.T) {
	f := newOrderFixture(t)
	polled := false
	f.gateway.GetInvoiceFn = func(_ context.Context, invoiceID int64) (*payment.Invoice, error) {
		polled = true
		return &payment.Invoice{ID: invoiceID, Status: payment.InvoiceStatusActive}, nil
	}

	order, err := f.uc.CreateOrder(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := f.uc.CheckPayment(context.Background(), 2, order.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for a foreign order, got %v", err)
	}
	if polled {
		t.Fatal("the gateway must not be polled for a foreign order")
	}
}

func TestUsdToUnits(t *testing.T) {
	if got := usdToUnits(decimal.RequireFromString("6.50")); got != 65000 {
		t.Fatalf("expected 65000 units, got %d", got)
	}
	if got := usdToUnits(decimal.RequireFromString("0.0001")); got != 1 {
		t.Fatalf("expected 1 unit, got %d", got)
	}
}
