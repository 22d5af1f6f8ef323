// internal/payment/orchestrator.go
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/wallet"
	"github.com/zkwallet/zkwallet/internal/zkproof"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

var (
	ErrReceiverNotFound  = errors.New("payment: receiver wallet not found")
	ErrProofVerification = errors.New("payment: proof verification failed")

	// ErrBroadcastFailed means the internal ledger committed but the chain
	// leg did not. The transaction is left failed with the debit/credit
	// applied; reconciliation is a separate duty.
	ErrBroadcastFailed = errors.New("payment: broadcast failed")
)

// Ledger is the slice of the wallet store the orchestrator needs.
// Satisfied by *wallet.Store.
type Ledger interface {
	WalletByID(ctx context.Context, id int64) (*db.Wallet, error)
	WalletByAddress(ctx context.Context, address string) (*db.Wallet, error)
	SyncBalance(ctx context.Context, w *db.Wallet) error
	ApplyTransfer(ctx context.Context, rec wallet.TransferRecord) (*db.Transaction, error)
	AttachChainTxHash(ctx context.Context, txID int64, chainTxHash string) error
	MarkTransactionCompleted(ctx context.Context, txID int64, chainTxHash string, simulated bool) error
	MarkTransactionFailed(ctx context.Context, txID int64) error
}

// Broadcaster mirrors completed internal transfers on-chain.
// Satisfied by *polygon.Client.
type Broadcaster interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (*polygon.TransferResult, error)
}

// ProofVerifier is the slice of the proof engine the orchestrator needs.
// Satisfied by *zkproof.Engine.
type ProofVerifier interface {
	VerifyBalanceProof(proofB64 string, required decimal.Decimal) bool
	VerifyTransactionProof(ctx context.Context, proofB64 string, userID *int64) (bool, error)
}

// Request is one payment to execute.
type Request struct {
	SenderWalletID  int64
	ReceiverAddress string
	Amount          decimal.Decimal
	Proof           string
	Privacy         bool
}

// Result is the structured outcome of a payment. Failure kinds travel as
// errors, never as bare booleans.
type Result struct {
	Transaction *db.Transaction
	ChainTxHash string
	Simulated   bool
}

// Orchestrator drives a payment through its states: balance verification,
// atomic debit/credit, then best-effort broadcast.
type Orchestrator struct {
	ledger   Ledger
	chain    Broadcaster
	verifier ProofVerifier
}

func NewOrchestrator(ledger Ledger, chain Broadcaster, verifier ProofVerifier) *Orchestrator {
	return &Orchestrator{ledger: ledger, chain: chain, verifier: verifier}
}

// SendPayment executes one payment end to end. Validation and proof failures
// abort with no side effects; once the internal transfer commits, a broadcast
// failure is recorded on the transaction row instead of rolled back.
func (o *Orchestrator) SendPayment(ctx context.Context, req Request) (*Result, error) {
	if req.Amount.Sign() <= 0 {
		return nil, wallet.ErrInvalidAmount
	}

	receiver, err := o.ledger.WalletByAddress(ctx, req.ReceiverAddress)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) || errors.Is(err, wallet.ErrInvalidAddress) {
			return nil, ErrReceiverNotFound
		}
		return nil, err
	}

	sender, err := o.ledger.WalletByID(ctx, req.SenderWalletID)
	if err != nil {
		return nil, err
	}
	if sender.ID == receiver.ID {
		return nil, fmt.Errorf("payment: cannot pay self")
	}

	if err := o.verifyFunds(ctx, sender, req); err != nil {
		return nil, err
	}

	record := wallet.TransferRecord{
		SenderWalletID:   sender.ID,
		ReceiverWalletID: receiver.ID,
		Amount:           req.Amount,
		LocalHash:        LocalTxHash(sender.InternalAddress, receiver.InternalAddress, req.Amount, time.Now()),
	}
	if req.Privacy {
		record.Proof = req.Proof
	}

	tx, err := o.ledger.ApplyTransfer(ctx, record)
	if err != nil {
		return nil, err
	}

	return o.broadcast(ctx, tx, receiver, req.Amount)
}

// verifyFunds implements the BalanceVerified step: a balance proof when one
// is attached, otherwise a fresh balance read. Private transactions also
// consume their nullifier here, before any balance moves.
func (o *Orchestrator) verifyFunds(ctx context.Context, sender *db.Wallet, req Request) error {
	if req.Proof != "" {
		env, err := zkproof.DecodeEnvelope(req.Proof)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProofVerification, err)
		}

		switch env.ProofType {
		case zkproof.ProofTypeBalance:
			if !o.verifier.VerifyBalanceProof(req.Proof, req.Amount) {
				return ErrProofVerification
			}
			return nil
		case zkproof.ProofTypeTransaction:
			ok, err := o.verifier.VerifyTransactionProof(ctx, req.Proof, &sender.UserID)
			if err != nil {
				if errors.Is(err, zkproof.ErrNullifierReused) {
					return fmt.Errorf("%w: %v", ErrProofVerification, err)
				}
				return err
			}
			if !ok {
				return ErrProofVerification
			}
			// Nullifier spent; funds still come from the custodial
			// balance, checked against a fresh read below.
		default:
			return fmt.Errorf("%w: unsupported proof type %q", ErrProofVerification, env.ProofType)
		}
	}

	// Opportunistic sync keeps the cached figure honest before the decision;
	// the authoritative re-check happens inside applyTransfer regardless.
	if err := o.ledger.SyncBalance(ctx, sender); err != nil {
		logging.Warn("pre-payment balance sync failed", zap.Error(err))
	}
	if sender.Balance.LessThan(req.Amount) {
		return wallet.ErrInsufficientBalance
	}
	return nil
}

// broadcast attempts the chain leg. Timeout-class RPC failures are retried
// with backoff; anything still failing marks the transaction failed without
// touching the already-committed balances.
func (o *Orchestrator) broadcast(ctx context.Context, tx *db.Transaction, receiver *db.Wallet, amount decimal.Decimal) (*Result, error) {
	if receiver.ChainAddress == nil {
		// Purely internal transfer, nothing to mirror.
		if err := o.ledger.MarkTransactionCompleted(ctx, tx.ID, "", false); err != nil {
			return nil, err
		}
		tx.Status = db.TxStatusCompleted
		return &Result{Transaction: tx}, nil
	}

	var res *polygon.TransferResult
	err := retry.Do(
		func() error {
			var txErr error
			res, txErr = o.chain.Transfer(ctx, *receiver.ChainAddress, amount)
			return txErr
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, polygon.ErrRPCTimeout) || errors.Is(err, polygon.ErrRPCUnavailable)
		}),
	)
	if err != nil {
		logging.Error("broadcast failed, transaction marked failed",
			zap.Int64("transaction_id", tx.ID),
			zap.Error(err))
		if markErr := o.ledger.MarkTransactionFailed(ctx, tx.ID); markErr != nil {
			return nil, markErr
		}
		tx.Status = db.TxStatusFailed
		return &Result{Transaction: tx}, fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	// Hash first, status second: a crash between the two leaves a pending
	// row with a hash that the reconciler can resolve from its receipt.
	if err := o.ledger.AttachChainTxHash(ctx, tx.ID, res.TxHash); err != nil {
		return nil, err
	}
	if err := o.ledger.MarkTransactionCompleted(ctx, tx.ID, res.TxHash, res.Simulated); err != nil {
		return nil, err
	}

	tx.Status = db.TxStatusCompleted
	tx.ChainTxHash = &res.TxHash
	tx.Simulated = res.Simulated

	logging.Info("payment completed",
		zap.Int64("transaction_id", tx.ID),
		zap.String("chain_tx_hash", res.TxHash),
		zap.Bool("simulated", res.Simulated))
	return &Result{Transaction: tx, ChainTxHash: res.TxHash, Simulated: res.Simulated}, nil
}

// LocalTxHash computes the deterministic local identifier of a transfer.
func LocalTxHash(senderAddr, receiverAddr string, amount decimal.Decimal, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", senderAddr, receiverAddr, amount.String(), at.UnixNano())))
	return hex.EncodeToString(sum[:])
}
