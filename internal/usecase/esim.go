package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/esimlab/esimbroker/internal/adapter/provider"
	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
	"github.com/esimlab/esimbroker/internal/notify"
)

// providerTimeLayouts covers the timestamp shapes the provider emits.
var providerTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseProviderTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ESimUseCase applies profile lifecycle updates. The provider webhook
// and the periodic usage poll both funnel through the same Apply
// methods, so a profile ends up in the same state regardless of which
// path delivered the news first.
type ESimUseCase struct {
	esims  repository.ESimRepository
	orders repository.OrderRepository
	users  repository.UserRepository

	provider provider.Client
	notifier notify.UserNotifier
	logger   *slog.Logger

	// lowDataThreshold is the remaining fraction at which the user gets
	// a one-shot warning, re-armed by a topup or by the remaining share
	// recovering above the threshold.
	lowDataThreshold float64
}

// NewESimUseCase constructs ESimUseCase.
func NewESimUseCase(
	esims repository.ESimRepository,
	orders repository.OrderRepository,
	users repository.UserRepository,
	client provider.Client,
	notifier notify.UserNotifier,
	lowDataThreshold float64,
	logger *slog.Logger,
) *ESimUseCase {
	return &ESimUseCase{
		esims:            esims,
		orders:           orders,
		users:            users,
		provider:         client,
		notifier:         notifier,
		logger:           logger,
		lowDataThreshold: lowDataThreshold,
	}
}

// ListESims returns all profiles owned by the user.
func (u *ESimUseCase) ListESims(ctx context.Context, userID int64) ([]model.ESim, error) {
	return u.esims.ListByUser(ctx, userID)
}

// GetESim returns one profile by ICCID, enforcing ownership.
func (u *ESimUseCase) GetESim(ctx context.Context, userID int64, iccid string) (*model.ESim, error) {
	esim, err := u.esims.GetByICCID(ctx, iccid)
	if err != nil {
		return nil, err
	}
	if err := u.checkOwner(ctx, userID, esim); err != nil {
		return nil, err
	}
	return esim, nil
}

func (u *ESimUseCase) checkOwner(ctx context.Context, userID int64, esim *model.ESim) error {
	order, err := u.orders.GetByID(ctx, esim.OrderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return apperrors.ErrNotFound
	}
	return nil
}

// ApplyStatus records a provider-reported status change. Unknown
// provider statuses are stored verbatim and logged, never guessed.
func (u *ESimUseCase) ApplyStatus(ctx context.Context, tranNo, providerStatus, smdpStatus string) error {
	esim, err := u.esims.GetByTranNo(ctx, tranNo)
	if err != nil {
		return err
	}

	status, known := model.NormalizeESimStatus(providerStatus)
	if !known {
		u.logger.Warn("unknown provider esim status",
			slog.String("esim_tran_no", tranNo),
			slog.String("esim_status", providerStatus))
	}
	if smdpStatus == "" {
		smdpStatus = esim.SMDPStatus
	}
	if esim.Status == status && esim.SMDPStatus == smdpStatus {
		return nil
	}

	if err := u.esims.UpdateStatus(ctx, esim.ID, status, smdpStatus); err != nil {
		return err
	}
	esim.Status = status
	esim.SMDPStatus = smdpStatus

	u.notifyStatus(ctx, esim)
	return nil
}

// ApplyUsage records allowance consumption and fires the one-shot low
// data warning when the remaining share drops under the threshold. An
// exhausted allowance also flips the profile to DEPLETED.
func (u *ESimUseCase) ApplyUsage(ctx context.Context, tranNo string, totalBytes, usedBytes int64) error {
	esim, err := u.esims.GetByTranNo(ctx, tranNo)
	if err != nil {
		return err
	}
	if totalBytes <= 0 {
		totalBytes = esim.TotalBytes
	}

	if err := u.esims.UpdateUsage(ctx, esim.ID, totalBytes, usedBytes); err != nil {
		return err
	}
	esim.TotalBytes = totalBytes
	esim.UsedBytes = usedBytes

	remaining := esim.RemainingFraction()
	if remaining <= 0 && esim.Status == model.ESimStatusActivated {
		if err := u.esims.UpdateStatus(ctx, esim.ID, model.ESimStatusDepleted, esim.SMDPStatus); err != nil {
			return err
		}
		esim.Status = model.ESimStatusDepleted
		u.notifyStatus(ctx, esim)
		return nil
	}

	// An allowance increase on the provider side can lift the remaining
	// share back over the threshold; clear the latch so the next
	// depletion warns again.
	if remaining > u.lowDataThreshold && esim.LowDataNotified {
		if err := u.esims.SetLowDataNotified(ctx, esim.ID, false); err != nil {
			return err
		}
		esim.LowDataNotified = false
	}

	if remaining <= u.lowDataThreshold && !esim.LowDataNotified {
		if err := u.esims.SetLowDataNotified(ctx, esim.ID, true); err != nil {
			return err
		}
		esim.LowDataNotified = true
		if user, err := u.owner(ctx, esim); err == nil {
			if err := u.notifier.LowData(ctx, user, esim, remaining); err != nil {
				u.logger.Error("low data notification failed", slog.Any("error", err))
			}
		}
	}
	return nil
}

// ApplyValidity records a changed expiry. A profile already past its
// expiry flips to EXPIRED immediately instead of waiting for the
// provider to say so.
func (u *ESimUseCase) ApplyValidity(ctx context.Context, tranNo string, expiredAt time.Time) error {
	esim, err := u.esims.GetByTranNo(ctx, tranNo)
	if err != nil {
		return err
	}

	if err := u.esims.UpdateValidity(ctx, esim.ID, expiredAt); err != nil {
		return err
	}
	esim.ExpiredAt = &expiredAt

	if expiredAt.Before(time.Now()) && esim.Status == model.ESimStatusActivated {
		if err := u.esims.UpdateStatus(ctx, esim.ID, model.ESimStatusExpired, esim.SMDPStatus); err != nil {
			return err
		}
		esim.Status = model.ESimStatusExpired
		u.notifyStatus(ctx, esim)
	}
	return nil
}

// PollUsage refreshes every active profile from the provider. It is the
// backstop for lost webhooks; per-profile failures are logged and do
// not stop the run.
func (u *ESimUseCase) PollUsage(ctx context.Context) error {
	active, err := u.esims.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, esim := range active {
		if err := u.refresh(ctx, esim); err != nil {
			u.logger.Error("usage refresh failed",
				slog.String("esim_tran_no", esim.TranNo),
				slog.Any("error", err))
		}
	}
	return nil
}

func (u *ESimUseCase) refresh(ctx context.Context, esim model.ESim) error {
	profiles, err := u.provider.QueryProfiles(ctx, provider.ProfileQuery{EsimTranNo: esim.TranNo})
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return apperrors.ErrNoData
	}
	profile := profiles[0]

	if profile.EsimStatus != "" {
		if err := u.ApplyStatus(ctx, esim.TranNo, profile.EsimStatus, profile.SMDPStatus); err != nil {
			return err
		}
	}
	if expiredAt := parseProviderTime(profile.ExpiredTime); expiredAt != nil {
		if esim.ExpiredAt == nil || !expiredAt.Equal(*esim.ExpiredAt) {
			if err := u.ApplyValidity(ctx, esim.TranNo, *expiredAt); err != nil {
				return err
			}
		}
	}
	return u.ApplyUsage(ctx, esim.TranNo, profile.TotalVolume, profile.OrderUsage)
}

// Suspend pauses data service for the user's profile.
func (u *ESimUseCase) Suspend(ctx context.Context, userID int64, iccid string) error {
	esim, err := u.GetESim(ctx, userID, iccid)
	if err != nil {
		return err
	}
	return u.provider.Suspend(ctx, esim.TranNo)
}

// Resume restores data service for the user's profile.
func (u *ESimUseCase) Resume(ctx context.Context, userID int64, iccid string) error {
	esim, err := u.GetESim(ctx, userID, iccid)
	if err != nil {
		return err
	}
	return u.provider.Resume(ctx, esim.TranNo)
}

// SendSMS delivers a text message to the user's profile.
func (u *ESimUseCase) SendSMS(ctx context.Context, userID int64, iccid, message string) error {
	esim, err := u.GetESim(ctx, userID, iccid)
	if err != nil {
		return err
	}
	return u.provider.SendSMS(ctx, esim.ICCID, message)
}

func (u *ESimUseCase) owner(ctx context.Context, esim *model.ESim) (*model.User, error) {
	order, err := u.orders.GetByID(ctx, esim.OrderID)
	if err != nil {
		return nil, err
	}
	return u.users.GetByID(ctx, order.UserID)
}

func (u *ESimUseCase) notifyStatus(ctx context.Context, esim *model.ESim) {
	user, err := u.owner(ctx, esim)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			u.logger.Error("owner lookup failed",
				slog.Int64("order_id", esim.OrderID),
				slog.Any("error", err))
		}
		return
	}
	if err := u.notifier.ESimStatusChanged(ctx, user, esim); err != nil {
		u.logger.Error("status notification failed", slog.Any("error", err))
	}
}
