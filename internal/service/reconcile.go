package service

import (
	"context"
	"time"

	"github.com/chrisraro/Giya-sub000/internal/repository"
	"github.com/chrisraro/Giya-sub000/pkg/logger"
)

// Reconciler is the compensation side of the pipeline. It requeues receipts
// that validated but hit a ledger write failure, recovers receipts abandoned
// mid-flight, and repairs customer aggregates that drifted from the ledger.
// The ledger is the source of truth; the cached aggregate is derived.
type Reconciler struct {
	receipts   *repository.ReceiptRepository
	customers  *repository.CustomerRepository
	ledger     *repository.LedgerRepository
	staleAfter time.Duration
}

func NewReconciler(
	receipts *repository.ReceiptRepository,
	customers *repository.CustomerRepository,
	ledger *repository.LedgerRepository,
	staleAfter time.Duration,
) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reconciler{
		receipts:   receipts,
		customers:  customers,
		ledger:     ledger,
		staleAfter: staleAfter,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	if n, err := r.receipts.RequeueLedgerFailures(ctx); err != nil {
		logger.Error("failed to requeue ledger failures:", err)
	} else if n > 0 {
		logger.WithFields(map[string]interface{}{"count": n}).Info("requeued receipts after ledger failures")
	}

	cutoff := time.Now().Add(-r.staleAfter)
	if n, err := r.receipts.RequeueStaleProcessing(ctx, cutoff); err != nil {
		logger.Error("failed to requeue stale receipts:", err)
	} else if n > 0 {
		logger.WithFields(map[string]interface{}{"count": n}).Warn("requeued receipts stuck in processing")
	}

	r.repairAggregates(ctx)
}

func (r *Reconciler) repairAggregates(ctx context.Context) {
	customers, err := r.customers.ListAll(ctx)
	if err != nil {
		logger.Error("failed to list customers for reconciliation:", err)
		return
	}

	for _, customer := range customers {
		actual, err := r.ledger.SumByCustomer(ctx, customer.ID)
		if err != nil {
			logger.Error("failed to sum ledger for customer:", customer.ID, err)
			continue
		}
		if actual == customer.TotalPoints {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"customer_id": customer.ID,
			"cached":      customer.TotalPoints,
			"ledger":      actual,
		}).Warn("customer aggregate drifted from ledger, repairing")

		if err := r.customers.SetTotalPoints(ctx, customer.ID, actual); err != nil {
			logger.Error("failed to repair customer aggregate:", customer.ID, err)
		}
	}
}
