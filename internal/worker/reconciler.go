package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// BrokerFacade exposes the subset of application functionality required
// by the background loops.
type BrokerFacade interface {
	// StuckOrders returns PROCESSING orders that hold a provider order
	// number but still have no profile.
	StuckOrders(ctx context.Context, limit int) ([]model.Order, error)
	// FailedPaidOrders returns claimed FAILED orders whose payment
	// settled; claiming happens inside the select.
	FailedPaidOrders(ctx context.Context, limit int) ([]model.Order, error)
	FinalizeOrder(ctx context.Context, order *model.Order) error
	ReprovisionOrder(ctx context.Context, order *model.Order) error
	SyncCatalog(ctx context.Context) error
	PollUsage(ctx context.Context) error
	CheckBalance(ctx context.Context) error
}

type jobKind int

const (
	jobFinalize jobKind = iota
	jobReprovision
)

type job struct {
	kind  jobKind
	order model.Order
}

// Reconciler runs the periodic safety nets: finishing orders whose
// provider callbacks went missing, retrying paid orders that failed,
// refreshing the catalog, polling usage, and watching the merchant
// balance. Order jobs fan out over a small worker pool.
type Reconciler struct {
	facade BrokerFacade
	logger *slog.Logger

	provisionInterval time.Duration
	syncInterval      time.Duration
	usageInterval     time.Duration
	batchSize         int
	workers           int

	jobs   chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewReconciler constructs the reconciliation worker pool.
func NewReconciler(facade BrokerFacade, provisionInterval, syncInterval, usageInterval time.Duration,
	batchSize, workers int, logger *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Reconciler{
		facade:            facade,
		logger:            logger,
		provisionInterval: provisionInterval,
		syncInterval:      syncInterval,
		usageInterval:     usageInterval,
		batchSize:         batchSize,
		workers:           workers,
		jobs:              make(chan job, batchSize*workers),
	}
}

// Start launches the loops and the worker pool.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx)
	}

	r.wg.Add(1)
	go r.provisionLoop(runCtx)
	r.wg.Add(1)
	go r.catalogLoop(runCtx)
	r.wg.Add(1)
	go r.usageLoop(runCtx)
}

// Stop waits for all loops and workers to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// provisionLoop sweeps immediately on start so a restart picks up work
// left over from the previous run, then keeps sweeping on the interval.
func (r *Reconciler) provisionLoop(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.jobs)

	r.sweepProvisioning(ctx)

	ticker := time.NewTicker(r.provisionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepProvisioning(ctx)
		}
	}
}

func (r *Reconciler) sweepProvisioning(ctx context.Context) {
	stuck, err := r.facade.StuckOrders(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stuck order sweep failed", slog.Any("error", err))
	}
	for _, order := range stuck {
		if !r.dispatch(ctx, job{kind: jobFinalize, order: order}) {
			return
		}
	}

	failed, err := r.facade.FailedPaidOrders(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("failed order sweep failed", slog.Any("error", err))
	}
	for _, order := range failed {
		if !r.dispatch(ctx, job{kind: jobReprovision, order: order}) {
			return
		}
	}
}

func (r *Reconciler) dispatch(ctx context.Context, j job) bool {
	select {
	case <-ctx.Done():
		return false
	case r.jobs <- j:
		return true
	}
}

func (r *Reconciler) catalogLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.facade.SyncCatalog(ctx); err != nil {
				r.logger.Error("catalog sync failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Reconciler) usageLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.usageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.facade.PollUsage(ctx); err != nil {
				r.logger.Error("usage poll failed", slog.Any("error", err))
			}
			if err := r.facade.CheckBalance(ctx); err != nil {
				r.logger.Error("balance check failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Reconciler) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-r.jobs:
			if !ok {
				return
			}
			r.handle(ctx, j)
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobReprovision:
		err = r.facade.ReprovisionOrder(ctx, &j.order)
	default:
		err = r.facade.FinalizeOrder(ctx, &j.order)
	}
	if err != nil {
		r.logger.Error("order reconciliation failed",
			slog.Int64("order_id", j.order.ID),
			slog.String("transaction_id", j.order.TransactionID),
			slog.Any("error", err))
	}
}
