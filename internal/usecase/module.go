package usecase

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
	"github.com/esimlab/esimbroker/internal/config"
	"github.com/esimlab/esimbroker/internal/domain/repository"
	"github.com/esimlab/esimbroker/internal/notify"
)

// newCooldownStore prefers Redis so several instances share one alert
// window; without a configured address it falls back to process memory.
func newCooldownStore(cfg *config.Config, logger *slog.Logger) CooldownStore {
	if cfg.RedisAddr == "" {
		logger.Info("cooldown store: in-memory")
		return NewMemoryCooldownStore()
	}
	logger.Info("cooldown store: redis", slog.String("addr", cfg.RedisAddr))
	return NewRedisCooldownStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
}

type balanceGuardParams struct {
	fx.In

	Config   *config.Config
	Client   provider.Client
	Alerter  notify.OperatorAlerter
	Cooldown CooldownStore
	Logger   *slog.Logger
}

func newBalanceGuard(p balanceGuardParams) *BalanceGuard {
	return NewBalanceGuard(p.Client, p.Alerter, p.Cooldown,
		p.Config.MinBalanceUSD, p.Config.WarnBalanceUSD, p.Config.BalanceAlertCooldown, p.Logger)
}

type orderUseCaseParams struct {
	fx.In

	Orders   repository.OrderRepository
	Packages repository.PackageRepository
	ESims    repository.ESimRepository
	Users    repository.UserRepository
	Client   provider.Client
	Gateway  payment.Gateway
	Guard    *BalanceGuard
	Notifier notify.UserNotifier
	Alerter  notify.OperatorAlerter
	Logger   *slog.Logger
}

func newOrderUseCase(p orderUseCaseParams) *OrderUseCase {
	return NewOrderUseCase(p.Orders, p.Packages, p.ESims, p.Users,
		p.Client, p.Gateway, p.Guard, p.Notifier, p.Alerter, p.Logger)
}

type esimUseCaseParams struct {
	fx.In

	Config   *config.Config
	ESims    repository.ESimRepository
	Orders   repository.OrderRepository
	Users    repository.UserRepository
	Client   provider.Client
	Notifier notify.UserNotifier
	Logger   *slog.Logger
}

func newESimUseCase(p esimUseCaseParams) *ESimUseCase {
	return NewESimUseCase(p.ESims, p.Orders, p.Users, p.Client, p.Notifier,
		p.Config.UsageAlertThreshold, p.Logger)
}

// Module provides core business use cases to the fx container.
var Module = fx.Provide(
	newCooldownStore,
	newBalanceGuard,
	NewCatalogUseCase,
	newOrderUseCase,
	newESimUseCase,
)
