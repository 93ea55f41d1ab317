// Command esimretry performs a single recovery sweep: it reattempts
// paid orders stuck in FAILED and finalizes orders the provider left
// pending, then exits. Run it after an incident instead of waiting for
// the broker's periodic sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/esimlab/esimbroker/internal/app"
	"github.com/esimlab/esimbroker/internal/config"
	"github.com/esimlab/esimbroker/internal/logger"
	"github.com/esimlab/esimbroker/internal/notify"
	"github.com/esimlab/esimbroker/internal/storage/postgres"
	"github.com/esimlab/esimbroker/internal/usecase"
	"github.com/esimlab/esimbroker/internal/worker"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retry sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("retried %d, finalized %d, failures %d\n", report.Retried, report.Finalized, report.Failures)
	if report.Failures > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context) (worker.RecoveryReport, error) {
	var report worker.RecoveryReport

	cfg, err := config.Load()
	if err != nil {
		return report, fmt.Errorf("load config: %w", err)
	}
	log := logger.New()

	storage, err := postgres.New(ctx, cfg.DatabaseURI, log)
	if err != nil {
		return report, fmt.Errorf("connect storage: %w", err)
	}
	defer storage.Close()

	providerClient, err := provider.NewHTTPClient(cfg.ProviderAPIURL, cfg.ProviderAccessCode, log)
	if err != nil {
		return report, fmt.Errorf("provider client: %w", err)
	}
	gateway, err := payment.NewHTTPGateway(cfg.PaymentAPIURL, cfg.PaymentAPIToken, log)
	if err != nil {
		return report, fmt.Errorf("payment gateway: %w", err)
	}
	notifier := notify.NewWebhookNotifier(cfg.UserWebhookURL, cfg.OperatorWebhookURL, log)

	guard := usecase.NewBalanceGuard(providerClient, notifier, usecase.NewMemoryCooldownStore(),
		cfg.MinBalanceUSD, cfg.WarnBalanceUSD, cfg.BalanceAlertCooldown, log)
	orderUC := usecase.NewOrderUseCase(storage.Orders(), storage.Packages(), storage.ESims(),
		storage.Users(), providerClient, gateway, guard, notifier, notifier, log)
	esimUC := usecase.NewESimUseCase(storage.ESims(), storage.Orders(), storage.Users(),
		providerClient, notifier, cfg.UsageAlertThreshold, log)
	catalog := usecase.NewCatalogUseCase(providerClient, storage.Countries(), storage.Packages(), log)

	facade := app.NewBrokerFacade(storage.Users(), storage.Countries(), storage.Packages(),
		storage.Orders(), orderUC, esimUC, catalog, guard)

	recovery := worker.NewRecovery(app.ReconcilerFacade{BrokerFacade: facade}, cfg.SweepBatchSize, log)
	report, err = recovery.Run(ctx)
	if err != nil {
		return report, err
	}

	log.Info("recovery sweep finished",
		slog.Int("retried", report.Retried),
		slog.Int("finalized", report.Finalized),
		slog.Int("failures", report.Failures))
	return report, nil
}
