package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
	"github.com/esimlab/esimbroker/internal/notify"
)

const defaultOrderPageSize = 20

// OrderUseCase drives the order lifecycle from creation through payment
// to a provisioned profile. Every status change goes through the
// repository's conditional transitions, so the payment webhook, the
// provider callback, and the background sweeps can all run concurrently
// without double-provisioning.
type OrderUseCase struct {
	orders   repository.OrderRepository
	packages repository.PackageRepository
	esims    repository.ESimRepository
	users    repository.UserRepository

	provider provider.Client
	gateway  payment.Gateway
	guard    *BalanceGuard
	notifier notify.UserNotifier
	alerter  notify.OperatorAlerter
	logger   *slog.Logger
}

// NewOrderUseCase constructs OrderUseCase.
func NewOrderUseCase(
	orders repository.OrderRepository,
	packages repository.PackageRepository,
	esims repository.ESimRepository,
	users repository.UserRepository,
	client provider.Client,
	gateway payment.Gateway,
	guard *BalanceGuard,
	notifier notify.UserNotifier,
	alerter notify.OperatorAlerter,
	logger *slog.Logger,
) *OrderUseCase {
	return &OrderUseCase{
		orders:   orders,
		packages: packages,
		esims:    esims,
		users:    users,
		provider: client,
		gateway:  gateway,
		guard:    guard,
		notifier: notifier,
		alerter:  alerter,
		logger:   logger,
	}
}

// usdToUnits converts a USD amount to the provider's 1/10000 USD units.
func usdToUnits(amount decimal.Decimal) int64 {
	return amount.Shift(4).IntPart()
}

// CreateOrder registers a new eSIM purchase and opens a payment invoice
// for it. The merchant balance is checked up front so a user never pays
// for a package the account cannot afford to provision.
func (u *OrderUseCase) CreateOrder(ctx context.Context, userID, packageID int64) (*model.Order, error) {
	pkg, err := u.packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Available {
		return nil, apperrors.ErrNotFound
	}

	if err := u.guard.Ensure(ctx, pkg.WholesaleUSD); err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:        userID,
		PackageID:     pkg.ID,
		TransactionID: uuid.NewString(),
		Type:          model.OrderTypeNew,
		Status:        model.OrderStatusCreated,
		AmountUSD:     pkg.RetailUSD,
	}
	order, err = u.orders.Create(ctx, order)
	if err != nil {
		return nil, err
	}

	if err := u.issueInvoice(ctx, order, pkg); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateTopup registers a data topup for an existing profile referenced
// by its ICCID. Ownership is enforced through the profile's order.
func (u *OrderUseCase) CreateTopup(ctx context.Context, userID int64, iccid string, packageID int64) (*model.Order, error) {
	esim, err := u.esims.GetByICCID(ctx, iccid)
	if err != nil {
		return nil, err
	}
	parent, err := u.orders.GetByID(ctx, esim.OrderID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != userID {
		return nil, apperrors.ErrNotFound
	}

	pkg, err := u.packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Available {
		return nil, apperrors.ErrNotFound
	}

	if err := u.guard.Ensure(ctx, pkg.WholesaleUSD); err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:        userID,
		PackageID:     pkg.ID,
		TransactionID: uuid.NewString(),
		Type:          model.OrderTypeTopup,
		TopupESimID:   &esim.ID,
		Status:        model.OrderStatusCreated,
		AmountUSD:     pkg.RetailUSD,
	}
	order, err = u.orders.Create(ctx, order)
	if err != nil {
		return nil, err
	}

	if err := u.issueInvoice(ctx, order, pkg); err != nil {
		return nil, err
	}
	return order, nil
}

func (u *OrderUseCase) issueInvoice(ctx context.Context, order *model.Order, pkg *model.Package) error {
	description := fmt.Sprintf("%s, %sGB / %dd", pkg.Name, pkg.DataGB, pkg.DurationDays)
	invoice, err := u.gateway.CreateInvoice(ctx, order.AmountUSD, order.TransactionID, description)
	if err != nil {
		u.logger.Error("invoice creation failed",
			slog.Int64("order_id", order.ID),
			slog.Any("error", err))
		return err
	}

	invoiceID := fmt.Sprintf("%d", invoice.ID)
	if err := u.orders.SetInvoice(ctx, order.ID, "crypto", invoiceID, invoice.PayURL); err != nil {
		return err
	}

	order.Status = model.OrderStatusAwaitingPayment
	order.PaymentMethod = "crypto"
	order.InvoiceID = invoiceID
	order.PaymentURL = invoice.PayURL
	return nil
}

// GetOrder returns one order owned by the user.
func (u *OrderUseCase) GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := u.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (u *OrderUseCase) ListOrders(ctx context.Context, userID int64, limit, offset int) ([]model.Order, error) {
	if limit <= 0 {
		limit = defaultOrderPageSize
	}
	return u.orders.ListByUser(ctx, userID, limit, offset)
}

// CheckPayment polls the gateway for the order's invoice and settles
// the payment when it went through without the webhook arriving. The
// refreshed order is returned either way so the caller can show the
// current status.
func (u *OrderUseCase) CheckPayment(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := u.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusAwaitingPayment || order.InvoiceID == "" {
		return order, nil
	}

	invoiceID, err := strconv.ParseInt(order.InvoiceID, 10, 64)
	if err != nil {
		return nil, apperrors.DataIntegrityError{Field: "invoice_id", Detail: fmt.Sprintf("not numeric: %q", order.InvoiceID)}
	}
	invoice, err := u.gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != payment.InvoiceStatusPaid {
		return order, nil
	}

	paidAt := time.Now().UTC()
	if invoice.PaidAt != nil {
		paidAt = invoice.PaidAt.UTC()
	}
	if err := u.ConfirmPayment(ctx, order.TransactionID, paidAt); err != nil {
		return nil, err
	}
	return u.orders.GetByID(ctx, order.ID)
}

// ConfirmPayment records a settled invoice and kicks off provisioning.
// Replayed webhooks are absorbed: a payment already recorded confirms
// again without a second provider order.
func (u *OrderUseCase) ConfirmPayment(ctx context.Context, transactionID string, paidAt time.Time) error {
	order, err := u.orders.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}

	if err := u.orders.MarkPaid(ctx, order.ID, paidAt); err != nil {
		var conflict apperrors.StateConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		switch model.OrderStatus(conflict.Current) {
		case model.OrderStatusPaid:
			// A concurrent confirmation recorded the payment but may not
			// have provisioned yet; fall through and race on the claim.
		case model.OrderStatusProcessing, model.OrderStatusCompleted:
			return nil
		default:
			return err
		}
	}

	if err := u.Provision(ctx, order.ID); err != nil {
		// The payment itself is settled; provisioning is retried by the
		// recovery sweep, so the gateway must not replay the webhook.
		u.logger.Error("provisioning after payment failed",
			slog.Int64("order_id", order.ID),
			slog.Any("error", err))
	}
	return nil
}

// Provision claims a paid order and places the provider order. Exactly
// one caller wins the PAID to PROCESSING transition; everyone else sees
// a conflict and backs off.
func (u *OrderUseCase) Provision(ctx context.Context, orderID int64) error {
	order, err := u.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if err := u.orders.UpdateStatusFrom(ctx, order.ID, model.OrderStatusPaid, model.OrderStatusProcessing); err != nil {
		var conflict apperrors.StateConflictError
		if errors.As(err, &conflict) {
			current := model.OrderStatus(conflict.Current)
			if current == model.OrderStatusProcessing || current == model.OrderStatusCompleted {
				return nil
			}
		}
		return err
	}
	order.Status = model.OrderStatusProcessing

	return u.provision(ctx, order)
}

// Reprovision retries a claimed order that is already PROCESSING, e.g.
// one the recovery sweep picked up.
func (u *OrderUseCase) Reprovision(ctx context.Context, order *model.Order) error {
	if order.Status != model.OrderStatusProcessing {
		return apperrors.StateConflictError{
			OrderID:   order.ID,
			Current:   string(order.Status),
			Attempted: string(model.OrderStatusProcessing),
		}
	}
	return u.provision(ctx, order)
}

func (u *OrderUseCase) provision(ctx context.Context, order *model.Order) error {
	pkg, err := u.packages.GetByID(ctx, order.PackageID)
	if err != nil {
		return err
	}
	amount := usdToUnits(pkg.WholesaleUSD)

	switch order.Type {
	case model.OrderTypeTopup:
		return u.provisionTopup(ctx, order, pkg, amount)
	default:
		return u.provisionNew(ctx, order, pkg, amount)
	}
}

func (u *OrderUseCase) provisionNew(ctx context.Context, order *model.Order, pkg *model.Package, amount int64) error {
	result, err := u.provider.CreateOrder(ctx, order.TransactionID, pkg.ProviderCode, 1, amount)
	if err != nil {
		return u.handleProviderFailure(ctx, order, err)
	}

	if err := u.orders.SetProviderOrderNo(ctx, order.ID, result.OrderNo); err != nil {
		return err
	}
	order.ProviderOrderNo = result.OrderNo

	if len(result.Profiles) == 0 {
		u.logger.Info("provider accepted order, awaiting allocation",
			slog.Int64("order_id", order.ID),
			slog.String("provider_order_no", result.OrderNo))
		return nil
	}
	return u.completeNew(ctx, order, result.Profiles[0])
}

func (u *OrderUseCase) provisionTopup(ctx context.Context, order *model.Order, pkg *model.Package, amount int64) error {
	if order.TopupESimID == nil {
		return apperrors.DataIntegrityError{Field: "topup_esim_id", Detail: "missing on topup order"}
	}
	esim, err := u.esims.GetByID(ctx, *order.TopupESimID)
	if err != nil {
		return err
	}

	result, err := u.provider.Topup(ctx, esim.TranNo, order.TransactionID, pkg.ProviderCode, amount)
	if err != nil {
		return u.handleProviderFailure(ctx, order, err)
	}

	if result.OrderNo != "" {
		if err := u.orders.SetProviderOrderNo(ctx, order.ID, result.OrderNo); err != nil {
			return err
		}
		order.ProviderOrderNo = result.OrderNo
	}
	return u.completeTopup(ctx, order, esim, pkg)
}

// handleProviderFailure settles a provider rejection. The order goes to
// FAILED so the recovery sweep picks it up again; only definitively
// rejected orders notify the user.
func (u *OrderUseCase) handleProviderFailure(ctx context.Context, order *model.Order, cause error) error {
	var providerErr apperrors.ProviderError
	if errors.As(cause, &providerErr) && providerErr.Kind == apperrors.ProviderDuplicateRequest {
		if err := u.resolveDuplicate(ctx, order); err == nil {
			return nil
		} else {
			u.logger.Warn("duplicate order resolution failed",
				slog.Int64("order_id", order.ID),
				slog.Any("error", err))
		}
	}

	if err := u.orders.UpdateStatusFrom(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusFailed); err != nil {
		u.logger.Error("failed to mark order failed",
			slog.Int64("order_id", order.ID),
			slog.Any("error", err))
	}

	if apperrors.Retryable(cause) {
		u.logger.Warn("provisioning deferred",
			slog.Int64("order_id", order.ID),
			slog.Any("error", cause))
		return cause
	}

	if user, err := u.users.GetByID(ctx, order.UserID); err == nil {
		if err := u.notifier.OrderFailed(ctx, user, order, "the order could not be fulfilled"); err != nil {
			u.logger.Error("order failure notification failed", slog.Any("error", err))
		}
	}
	detail := fmt.Sprintf("order %d (%s) rejected by provider: %v", order.ID, order.TransactionID, cause)
	if err := u.alerter.Alert(ctx, "paid order failed", detail); err != nil {
		u.logger.Error("operator alert failed", slog.Any("error", err))
	}
	return cause
}

// resolveDuplicate handles the provider reporting that our transaction
// ID was already used: an earlier attempt went through but the response
// was lost. The profile is recovered by querying with the same ID.
func (u *OrderUseCase) resolveDuplicate(ctx context.Context, order *model.Order) error {
	profiles, err := u.provider.QueryProfiles(ctx, provider.ProfileQuery{TransactionID: order.TransactionID})
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return apperrors.ErrNoData
	}
	profile := profiles[0]

	if profile.OrderNo != "" {
		if err := u.orders.SetProviderOrderNo(ctx, order.ID, profile.OrderNo); err != nil {
			return err
		}
		order.ProviderOrderNo = profile.OrderNo
	}

	if order.Type == model.OrderTypeTopup {
		if order.TopupESimID == nil {
			return apperrors.DataIntegrityError{Field: "topup_esim_id", Detail: "missing on topup order"}
		}
		esim, err := u.esims.GetByID(ctx, *order.TopupESimID)
		if err != nil {
			return err
		}
		pkg, err := u.packages.GetByID(ctx, order.PackageID)
		if err != nil {
			return err
		}
		return u.completeTopup(ctx, order, esim, pkg)
	}
	return u.completeNew(ctx, order, profile)
}

// FinalizePending completes a PROCESSING order that already holds a
// provider order number by asking the provider for its profile. Called
// by the reconciliation sweep; a profile not yet allocated is not an
// error.
func (u *OrderUseCase) FinalizePending(ctx context.Context, order *model.Order) error {
	if order.ProviderOrderNo == "" {
		return apperrors.DataIntegrityError{Field: "provider_order_no", Detail: "empty on pending order"}
	}
	profiles, err := u.provider.QueryProfiles(ctx, provider.ProfileQuery{OrderNo: order.ProviderOrderNo})
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		u.logger.Info("order still pending at provider",
			slog.Int64("order_id", order.ID),
			slog.String("provider_order_no", order.ProviderOrderNo))
		return nil
	}

	if order.Type == model.OrderTypeTopup {
		if order.TopupESimID == nil {
			return apperrors.DataIntegrityError{Field: "topup_esim_id", Detail: "missing on topup order"}
		}
		esim, err := u.esims.GetByID(ctx, *order.TopupESimID)
		if err != nil {
			return err
		}
		pkg, err := u.packages.GetByID(ctx, order.PackageID)
		if err != nil {
			return err
		}
		return u.completeTopup(ctx, order, esim, pkg)
	}
	return u.completeNew(ctx, order, profiles[0])
}

// completeNew stores the provisioned profile and finishes the order.
// Duplicate completions collapse on the unique order_id constraint and
// the PROCESSING to COMPLETED transition, so the user hears about the
// profile exactly once.
func (u *OrderUseCase) completeNew(ctx context.Context, order *model.Order, profile provider.ProfilePayload) error {
	if profile.ICCID == "" {
		// Allocated but not yet personalized; the sweep tries again.
		u.logger.Info("profile not yet personalized",
			slog.Int64("order_id", order.ID),
			slog.String("esim_tran_no", profile.EsimTranNo))
		return nil
	}
	if profile.AC == "" {
		return apperrors.DataIntegrityError{Field: "ac", Detail: "missing on personalized profile"}
	}

	status, known := model.NormalizeESimStatus(profile.EsimStatus)
	if profile.EsimStatus == "" {
		status = model.ESimStatusActivated
	} else if !known {
		u.logger.Warn("unknown provider esim status",
			slog.String("esim_status", profile.EsimStatus),
			slog.Int64("order_id", order.ID))
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	esim := &model.ESim{
		OrderID:        order.ID,
		TranNo:         profile.EsimTranNo,
		ICCID:          profile.ICCID,
		ActivationCode: profile.AC,
		QRCodeURL:      profile.QRCodeURL,
		ShortURL:       profile.ShortURL,
		SMDPStatus:     profile.SMDPStatus,
		Status:         status,
		TotalBytes:     profile.TotalVolume,
		UsedBytes:      profile.OrderUsage,
		ExpiredAt:      parseProviderTime(profile.ExpiredTime),
		RawPayload:     raw,
	}
	esim, err = u.esims.Create(ctx, esim)
	if err != nil {
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return err
		}
		esim, err = u.esims.GetByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
	}

	if err := u.orders.UpdateStatusFrom(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusCompleted); err != nil {
		var conflict apperrors.StateConflictError
		if errors.As(err, &conflict) && model.OrderStatus(conflict.Current) == model.OrderStatusCompleted {
			return nil
		}
		return err
	}
	order.Status = model.OrderStatusCompleted

	if user, err := u.users.GetByID(ctx, order.UserID); err == nil {
		if err := u.notifier.ESimReady(ctx, user, order, esim); err != nil {
			u.logger.Error("esim ready notification failed", slog.Any("error", err))
		}
	}
	u.logger.Info("order completed",
		slog.Int64("order_id", order.ID),
		slog.String("iccid", esim.ICCID))
	return nil
}

func (u *OrderUseCase) completeTopup(ctx context.Context, order *model.Order, esim *model.ESim, pkg *model.Package) error {
	addBytes := pkg.DataGB.Mul(decimal.NewFromInt(bytesPerGB)).IntPart()
	if err := u.esims.ApplyTopup(ctx, esim.ID, addBytes, nil); err != nil {
		return err
	}

	if err := u.orders.UpdateStatusFrom(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusCompleted); err != nil {
		var conflict apperrors.StateConflictError
		if errors.As(err, &conflict) && model.OrderStatus(conflict.Current) == model.OrderStatusCompleted {
			return nil
		}
		return err
	}
	order.Status = model.OrderStatusCompleted

	esim, err := u.esims.GetByID(ctx, esim.ID)
	if err != nil {
		return err
	}
	if user, err := u.users.GetByID(ctx, order.UserID); err == nil {
		if err := u.notifier.TopupApplied(ctx, user, esim); err != nil {
			u.logger.Error("topup notification failed", slog.Any("error", err))
		}
	}
	u.logger.Info("topup applied",
		slog.Int64("order_id", order.ID),
		slog.String("iccid", esim.ICCID),
		slog.Int64("added_bytes", addBytes))
	return nil
}

// CancelForUser voids the user's own unpaid order. The paid branch of
// Cancel is unreachable from here because no refund reference is
// passed, so users cannot void money they already sent.
func (u *OrderUseCase) CancelForUser(ctx context.Context, userID, orderID int64) error {
	if _, err := u.GetOrder(ctx, userID, orderID); err != nil {
		return err
	}
	return u.Cancel(ctx, orderID, "")
}

// Cancel voids an order. Unpaid orders cancel freely; a paid order
// requires a refund reference so money never silently disappears. A
// profile that was already issued is released at the provider first.
func (u *OrderUseCase) Cancel(ctx context.Context, orderID int64, refundRef string) error {
	order, err := u.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return apperrors.StateConflictError{
			OrderID:   order.ID,
			Current:   string(order.Status),
			Attempted: string(model.OrderStatusCanceled),
		}
	}
	if order.PaidAt != nil && refundRef == "" {
		return apperrors.PaymentError{Reason: "canceling a paid order requires a refund reference"}
	}

	if esim, err := u.esims.GetByOrderID(ctx, order.ID); err == nil && esim.TranNo != "" {
		if err := u.provider.Cancel(ctx, esim.TranNo); err != nil {
			return fmt.Errorf("release profile: %w", err)
		}
		if err := u.esims.UpdateStatus(ctx, esim.ID, model.ESimStatusCanceled, esim.SMDPStatus); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	if err := u.orders.UpdateStatusFrom(ctx, order.ID, order.Status, model.OrderStatusCanceled); err != nil {
		return err
	}

	if order.PaidAt != nil {
		detail := fmt.Sprintf("order %d canceled after payment, refund reference %s", order.ID, refundRef)
		if err := u.alerter.Alert(ctx, "paid order canceled", detail); err != nil {
			u.logger.Error("operator alert failed", slog.Any("error", err))
		}
	}
	return nil
}
