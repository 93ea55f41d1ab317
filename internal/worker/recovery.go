package worker

import (
	"context"
	"log/slog"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// RecoveryReport summarizes a single recovery pass.
type RecoveryReport struct {
	Retried   int
	Finalized int
	Failures  int
}

// Recovery is the one-shot counterpart of the reconciler: it drains the
// current backlog of failed paid orders and stuck provisioning orders
// exactly once and returns. Operators run it from the retry command
// after an incident instead of waiting for the next sweep.
type Recovery struct {
	facade    BrokerFacade
	batchSize int
	logger    *slog.Logger
}

// NewRecovery constructs a one-shot recovery sweep.
func NewRecovery(facade BrokerFacade, batchSize int, logger *slog.Logger) *Recovery {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Recovery{facade: facade, batchSize: batchSize, logger: logger}
}

// Run performs one pass over both backlogs. Batches are drained until a
// select comes back short, so a backlog larger than the batch size is
// still cleared in one invocation. Individual order failures are logged
// and counted, never fatal.
func (r *Recovery) Run(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	err := r.drain(ctx, r.facade.FailedPaidOrders, func(ctx context.Context, order *model.Order) error {
		if err := r.facade.ReprovisionOrder(ctx, order); err != nil {
			report.Failures++
			r.logger.Error("retry failed",
				slog.Int64("order_id", order.ID),
				slog.String("transaction_id", order.TransactionID),
				slog.Any("error", err))
			return nil
		}
		report.Retried++
		return nil
	})
	if err != nil {
		return report, err
	}

	err = r.drain(ctx, r.facade.StuckOrders, func(ctx context.Context, order *model.Order) error {
		if err := r.facade.FinalizeOrder(ctx, order); err != nil {
			report.Failures++
			r.logger.Error("finalize failed",
				slog.Int64("order_id", order.ID),
				slog.String("transaction_id", order.TransactionID),
				slog.Any("error", err))
			return nil
		}
		report.Finalized++
		return nil
	})
	return report, err
}

func (r *Recovery) drain(ctx context.Context,
	selectBatch func(ctx context.Context, limit int) ([]model.Order, error),
	process func(ctx context.Context, order *model.Order) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := selectBatch(ctx, r.batchSize)
		if err != nil {
			return err
		}
		for i := range batch {
			if err := process(ctx, &batch[i]); err != nil {
				return err
			}
		}
		if len(batch) < r.batchSize {
			return nil
		}
	}
}
