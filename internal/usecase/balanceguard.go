package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esimlab/esimbroker/internal/adapter/provider"
	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/notify"
)

// balance units reported by the provider are 1/10000 USD.
const balanceUnitExponent = -4

const lowBalanceCooldownKey = "alert:low-balance"

// BalanceGuard keeps the merchant account from running dry: orders are
// blocked before the balance would drop under the floor, and the
// operator is warned once per cooldown window when the balance sinks
// below the warning threshold.
type BalanceGuard struct {
	client   provider.Client
	alerter  notify.OperatorAlerter
	cooldown CooldownStore
	logger   *slog.Logger

	floor   decimal.Decimal
	warnAt  decimal.Decimal
	coolFor time.Duration
}

// NewBalanceGuard constructs the guard.
func NewBalanceGuard(client provider.Client, alerter notify.OperatorAlerter, cooldown CooldownStore,
	floor, warnAt decimal.Decimal, coolFor time.Duration, logger *slog.Logger) *BalanceGuard {
	return &BalanceGuard{
		client:   client,
		alerter:  alerter,
		cooldown: cooldown,
		logger:   logger,
		floor:    floor,
		warnAt:   warnAt,
		coolFor:  coolFor,
	}
}

// BalanceUSD fetches the current merchant balance in USD.
func (g *BalanceGuard) BalanceUSD(ctx context.Context) (decimal.Decimal, error) {
	units, err := g.client.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(units, balanceUnitExponent), nil
}

// Ensure verifies that charging cost keeps the balance above the floor.
// A warning alert fires at most once per cooldown window; alert failures
// never block the order.
func (g *BalanceGuard) Ensure(ctx context.Context, cost decimal.Decimal) error {
	balance, err := g.BalanceUSD(ctx)
	if err != nil {
		return err
	}

	g.warnIfLow(ctx, balance)

	if balance.Sub(cost).LessThan(g.floor) {
		return apperrors.ProviderError{
			Kind:    apperrors.ProviderInsufficientBalance,
			Message: fmt.Sprintf("balance %s cannot cover %s with floor %s", balance, cost, g.floor),
		}
	}
	return nil
}

// Check is the periodic variant used by the reconciler: it only warns,
// it never blocks anything.
func (g *BalanceGuard) Check(ctx context.Context) error {
	balance, err := g.BalanceUSD(ctx)
	if err != nil {
		return err
	}
	g.warnIfLow(ctx, balance)
	return nil
}

func (g *BalanceGuard) warnIfLow(ctx context.Context, balance decimal.Decimal) {
	if balance.GreaterThanOrEqual(g.warnAt) {
		return
	}

	won, err := g.cooldown.Acquire(ctx, lowBalanceCooldownKey, g.coolFor)
	if err != nil {
		g.logger.Error("cooldown store failed", slog.Any("error", err))
		return
	}
	if !won {
		return
	}

	detail := fmt.Sprintf("merchant balance %s USD is below the %s USD warning threshold", balance, g.warnAt)
	if err := g.alerter.Alert(ctx, "low merchant balance", detail); err != nil {
		g.logger.Error("low balance alert failed", slog.Any("error", err))
	}
}
