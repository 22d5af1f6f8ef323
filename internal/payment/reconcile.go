// internal/payment/reconcile.go
package payment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

// ReceiptSource polls chain receipts. Satisfied by *polygon.Client.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash string) (*polygon.Receipt, error)
}

// PendingLister exposes pending broadcasts. Satisfied by *wallet.Store.
type PendingLister interface {
	PendingTransactions(ctx context.Context, limit int) ([]db.Transaction, error)
	MarkTransactionCompleted(ctx context.Context, txID int64, chainTxHash string, simulated bool) error
	MarkTransactionFailed(ctx context.Context, txID int64) error
}

// Reconciler resolves transactions whose broadcast outcome was lost, e.g.
// on a process crash between broadcast and the status write. It only looks
// at pending rows that already carry a chain hash.
type Reconciler struct {
	ledger PendingLister
	chain  ReceiptSource
}

func NewReconciler(ledger PendingLister, chain ReceiptSource) *Reconciler {
	return &Reconciler{ledger: ledger, chain: chain}
}

// Run reconciles on the given interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				logging.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce resolves one batch of pending transactions from receipts.
// A missing receipt means the transaction is still in flight and is left
// alone.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	pending, err := r.ledger.PendingTransactions(ctx, 100)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if tx.ChainTxHash == nil {
			continue
		}
		receipt, err := r.chain.TransactionReceipt(ctx, *tx.ChainTxHash)
		if err != nil {
			logging.Warn("receipt lookup failed",
				zap.Int64("transaction_id", tx.ID),
				zap.Error(err))
			continue
		}
		if receipt == nil {
			continue
		}

		if receipt.Succeeded() {
			if err := r.ledger.MarkTransactionCompleted(ctx, tx.ID, *tx.ChainTxHash, tx.Simulated); err != nil {
				return err
			}
			logging.Info("reconciled transaction to completed", zap.Int64("transaction_id", tx.ID))
		} else {
			if err := r.ledger.MarkTransactionFailed(ctx, tx.ID); err != nil {
				return err
			}
			logging.Warn("reconciled transaction to failed", zap.Int64("transaction_id", tx.ID))
		}
	}
	return nil
}
