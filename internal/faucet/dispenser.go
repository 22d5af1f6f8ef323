// internal/faucet/dispenser.go
package faucet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/payment"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

var (
	// ErrCooldown is matched by CooldownError via errors.Is.
	ErrCooldown = errors.New("faucet: request inside cooldown window")

	// ErrMasterDrained means the master wallet cannot cover the dispense
	// without dropping below its reserve.
	ErrMasterDrained = errors.New("faucet: master wallet below minimum balance")
)

// CooldownError carries how long the caller has to wait.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("faucet: request inside cooldown window, retry after %s", e.RetryAfter.Round(time.Minute))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// Policy constants. One dispense per wallet per rolling 24h window, and the
// master wallet keeps a reserve so the faucet cannot drain it completely.
var (
	DispenseAmount   = decimal.RequireFromString("0.01")
	MinMasterBalance = decimal.RequireFromString("0.05")
)

const Window = 24 * time.Hour

// RequestLog persists faucet requests. Record must re-validate the window
// atomically at commit time: two simultaneous requests from the same wallet
// yield exactly one success. Release undoes a claim whose broadcast failed,
// and AttachResult stores the broadcast outcome on a claimed row.
type RequestLog interface {
	LastRequest(ctx context.Context, walletID int64) (*time.Time, error)
	Record(ctx context.Context, req *db.FaucetRequest) error
	Release(ctx context.Context, req *db.FaucetRequest) error
	AttachResult(ctx context.Context, req *db.FaucetRequest) error
}

// Funds is the chain-side surface the faucet needs.
// Satisfied by *polygon.Client.
type Funds interface {
	Simulated() bool
	MasterBalance(ctx context.Context) (decimal.Decimal, error)
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (*polygon.TransferResult, error)
}

// Wallets is the ledger-side surface the faucet needs.
// Satisfied by *wallet.Store.
type Wallets interface {
	WalletByID(ctx context.Context, id int64) (*db.Wallet, error)
	Credit(ctx context.Context, walletID int64, amount decimal.Decimal, txType, localHash string) (*db.Transaction, error)
	MarkTransactionCompleted(ctx context.Context, txID int64, chainTxHash string, simulated bool) error
}

// Dispenser hands out test funds under the rate-limit policy.
type Dispenser struct {
	wallets Wallets
	chain   Funds
	log     RequestLog

	now func() time.Time
}

func NewDispenser(wallets Wallets, chain Funds, log RequestLog) *Dispenser {
	return &Dispenser{wallets: wallets, chain: chain, log: log, now: time.Now}
}

// Dispense sends the faucet amount to the wallet's chain address and credits
// the internal balance. The window check runs twice: a cheap read up front
// and the atomic re-validation inside Record. The window is claimed before
// anything leaves the master wallet, so concurrent requests cannot each move
// funds on-chain; a failed broadcast releases the claim.
func (d *Dispenser) Dispense(ctx context.Context, walletID int64) (*db.FaucetRequest, error) {
	w, err := d.wallets.WalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.ChainAddress == nil {
		return nil, fmt.Errorf("faucet: wallet %d has no chain address", walletID)
	}

	now := d.now()
	last, err := d.log.LastRequest(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		if elapsed := now.Sub(*last); elapsed < Window {
			return nil, &CooldownError{RetryAfter: Window - elapsed}
		}
	}

	if !d.chain.Simulated() {
		balance, err := d.chain.MasterBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("faucet: checking master balance: %w", err)
		}
		if balance.Sub(DispenseAmount).LessThan(MinMasterBalance) {
			logging.Error("faucet refused, master wallet near reserve",
				zap.String("balance", balance.String()))
			return nil, ErrMasterDrained
		}
	}

	req := &db.FaucetRequest{
		WalletID:  walletID,
		Amount:    DispenseAmount,
		CreatedAt: now,
	}
	if err := d.log.Record(ctx, req); err != nil {
		return nil, err
	}

	res, err := d.chain.Transfer(ctx, *w.ChainAddress, DispenseAmount)
	if err != nil {
		// Give the claimed window back so the wallet can retry right away.
		if rerr := d.log.Release(ctx, req); rerr != nil {
			logging.Error("faucet could not release claimed window",
				zap.Int64("wallet_id", walletID),
				zap.Error(rerr))
		}
		return nil, fmt.Errorf("faucet: transfer: %w", err)
	}

	req.ChainTxHash = &res.TxHash
	req.Simulated = res.Simulated
	if err := d.log.AttachResult(ctx, req); err != nil {
		logging.Warn("faucet could not record broadcast result",
			zap.Int64("wallet_id", walletID),
			zap.Error(err))
	}

	localHash := payment.LocalTxHash("faucet", w.InternalAddress, DispenseAmount, now)
	tx, err := d.wallets.Credit(ctx, walletID, DispenseAmount, db.TxTypeFaucet, localHash)
	if err != nil {
		return nil, fmt.Errorf("faucet: crediting wallet: %w", err)
	}
	if err := d.wallets.MarkTransactionCompleted(ctx, tx.ID, res.TxHash, res.Simulated); err != nil {
		return nil, err
	}

	logging.Info("faucet dispensed",
		zap.Int64("wallet_id", walletID),
		zap.String("amount", DispenseAmount.String()),
		zap.Bool("simulated", res.Simulated))
	return req, nil
}
