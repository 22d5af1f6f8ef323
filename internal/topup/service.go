// internal/topup/service.go
package topup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/pkg/keys"
	"github.com/zkwallet/zkwallet/pkg/midtrans"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

var _ Broadcaster = (*polygon.Client)(nil)

var (
	ErrBadSignature  = errors.New("topup: webhook signature mismatch")
	ErrOrderNotFound = errors.New("topup: order not found")
	ErrAmountTooLow  = errors.New("topup: amount below minimum")
)

// MinFiatAmount is the smallest accepted top-up, in IDR.
var MinFiatAmount = decimal.NewFromInt(10000)

// Gateway is the payment-gateway surface the service needs.
// Satisfied by *midtrans.Client.
type Gateway interface {
	CreateTransaction(ctx context.Context, orderID string, grossAmount int64) (*midtrans.SnapSession, error)
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

// Wallets is the ledger surface for the crypto leg.
// Satisfied by *wallet.Store.
type Wallets interface {
	WalletByID(ctx context.Context, id int64) (*db.Wallet, error)
	Credit(ctx context.Context, walletID int64, amount decimal.Decimal, txType, localHash string) (*db.Transaction, error)
	TransactionByLocalHash(ctx context.Context, localHash string) (*db.Transaction, error)
	MarkTransactionCompleted(ctx context.Context, txID int64, chainTxHash string, simulated bool) error
}

// Broadcaster mirrors the credited amount on-chain.
// Satisfied by *polygon.Client.
type Broadcaster interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (*polygon.TransferResult, error)
}

// Service drives the fiat top-up lifecycle: order creation against the
// gateway, then webhook-driven settlement of the crypto leg. A top-up is
// terminally completed only after the crypto leg succeeds, never on fiat
// confirmation alone.
type Service struct {
	orders  Orders
	gateway Gateway
	rates   RateSource
	wallets Wallets
	chain   Broadcaster

	now func() time.Time
}

func NewService(orders Orders, gateway Gateway, rates RateSource, wallets Wallets, chain Broadcaster) *Service {
	return &Service{orders: orders, gateway: gateway, rates: rates, wallets: wallets, chain: chain, now: time.Now}
}

// CreateTopUp opens a payment session and records the pending order.
func (s *Service) CreateTopUp(ctx context.Context, userID, walletID int64, fiatAmount decimal.Decimal) (*db.TopUpTransaction, error) {
	if fiatAmount.LessThan(MinFiatAmount) {
		return nil, ErrAmountTooLow
	}

	w, err := s.wallets.WalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, ErrOrderNotFound
	}

	rate, err := s.rates.MaticIDR(ctx)
	if err != nil {
		return nil, fmt.Errorf("topup: fetching rate: %w", err)
	}
	cryptoAmount := fiatAmount.DivRound(rate, 18)

	orderID, err := NewOrderID(userID, s.now())
	if err != nil {
		return nil, err
	}

	gross := fiatAmount.Round(0)
	session, err := s.gateway.CreateTransaction(ctx, orderID, gross.IntPart())
	if err != nil {
		return nil, fmt.Errorf("topup: creating payment session: %w", err)
	}

	record := &db.TopUpTransaction{
		UserID:       userID,
		WalletID:     walletID,
		OrderID:      orderID,
		FiatAmount:   gross,
		FiatCurrency: "IDR",
		CryptoAmount: cryptoAmount,
		Rate:         rate,
		Status:       db.TopUpStatusPending,
		SnapToken:    session.Token,
		RedirectURL:  session.RedirectURL,
	}
	if err := s.orders.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("topup: saving order: %w", err)
	}

	logging.Info("top-up created",
		zap.String("order_id", orderID),
		zap.String("fiat", gross.String()),
		zap.String("crypto", cryptoAmount.String()))
	return record, nil
}

// HandleNotification processes a gateway webhook. The signature is verified
// before any field is trusted; a mismatch changes no state. Retried paid
// notifications re-run settlement, which is idempotent.
func (s *Service) HandleNotification(ctx context.Context, n *midtrans.Notification) error {
	if !s.gateway.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		logging.Error("top-up webhook rejected, bad signature", zap.String("order_id", n.OrderID))
		return ErrBadSignature
	}

	record, err := s.orders.ByOrderID(ctx, n.OrderID)
	if err != nil {
		return err
	}

	// Terminal states are never revisited.
	if record.Status == db.TopUpStatusCompleted || record.Status == db.TopUpStatusFailed {
		return nil
	}

	switch midtrans.MapStatus(n.TransactionStatus, n.FraudStatus) {
	case midtrans.OutcomePaid:
		return s.settle(ctx, record)
	case midtrans.OutcomeFailed:
		return s.orders.MarkFailed(ctx, record)
	default:
		return nil
	}
}

// settle runs the crypto leg after fiat confirmation. The internal credit is
// keyed on the order id, so running settle again for the same order cannot
// credit twice: the unique index on local_hash admits exactly one row. A
// chain-leg failure leaves the record at paid and the credit row pending, and
// a later webhook retry or the paid-order sweep finishes the job.
func (s *Service) settle(ctx context.Context, record *db.TopUpTransaction) error {
	if record.Status == db.TopUpStatusPending {
		owned, err := s.orders.MarkPaid(ctx, record)
		if err != nil {
			return err
		}
		if !owned {
			// Another webhook took the transition and runs the leg; if it
			// dies the paid-order sweep picks the order up.
			return nil
		}
	}

	w, err := s.wallets.WalletByID(ctx, record.WalletID)
	if err != nil {
		return err
	}

	localHash := CreditHash(record.OrderID)
	tx, err := s.wallets.TransactionByLocalHash(ctx, localHash)
	if err != nil {
		return err
	}
	if tx == nil {
		tx, err = s.wallets.Credit(ctx, record.WalletID, record.CryptoAmount, db.TxTypeTopUp, localHash)
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent settlement inserted the credit first and owns
				// the rest of the leg.
				logging.Debug("top-up already being settled concurrently",
					zap.String("order_id", record.OrderID))
				return nil
			}
			return fmt.Errorf("topup: crediting wallet: %w", err)
		}
	}

	if tx.Status == db.TxStatusCompleted {
		// Chain leg finished on an earlier attempt; only the order record
		// still needs to catch up.
		hash := ""
		if tx.ChainTxHash != nil {
			hash = *tx.ChainTxHash
		}
		return s.orders.MarkCompleted(ctx, record, hash)
	}

	var chainHash string
	var simulated bool
	if w.ChainAddress != nil {
		res, err := s.chain.Transfer(ctx, *w.ChainAddress, record.CryptoAmount)
		if err != nil {
			logging.Error("top-up chain leg failed",
				zap.String("order_id", record.OrderID),
				zap.Error(err))
			return fmt.Errorf("topup: chain transfer: %w", err)
		}
		chainHash = res.TxHash
		simulated = res.Simulated
	}

	if err := s.wallets.MarkTransactionCompleted(ctx, tx.ID, chainHash, simulated); err != nil {
		return err
	}
	if err := s.orders.MarkCompleted(ctx, record, chainHash); err != nil {
		return err
	}

	logging.Info("top-up completed",
		zap.String("order_id", record.OrderID),
		zap.String("crypto", record.CryptoAmount.String()))
	return nil
}

// ReconcilePaid retries settlement for orders stuck at paid, where fiat
// confirmed but the crypto leg failed. Settlement is idempotent, so a webhook
// retry racing this sweep is harmless.
func (s *Service) ReconcilePaid(ctx context.Context) {
	records, err := s.orders.ListPaid(ctx, 100)
	if err != nil {
		logging.Error("listing paid top-ups", zap.Error(err))
		return
	}
	for i := range records {
		if err := s.settle(ctx, &records[i]); err != nil {
			logging.Warn("top-up settlement retry failed",
				zap.String("order_id", records[i].OrderID),
				zap.Error(err))
		}
	}
}

// RunReconciler sweeps paid orders until the context ends.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReconcilePaid(ctx)
		}
	}
}

// TopUpsByUser lists a user's top-ups, newest first.
func (s *Service) TopUpsByUser(ctx context.Context, userID int64) ([]db.TopUpTransaction, error) {
	return s.orders.ListByUser(ctx, userID, 50)
}

// CreditHash derives the ledger hash for an order's crypto leg. Deterministic
// on the order id, so one fiat payment maps to exactly one internal credit.
func CreditHash(orderID string) string {
	sum := sha256.Sum256([]byte("topup|" + orderID))
	return hex.EncodeToString(sum[:])
}

// NewOrderID builds the external order identifier:
// TOPUP-{userID}-{unix}-{6 random upper-hex chars}.
func NewOrderID(userID int64, at time.Time) (string, error) {
	random, err := keys.RandomBytes(3)
	if err != nil {
		return "", fmt.Errorf("topup: generating order id: %w", err)
	}
	return fmt.Sprintf("TOPUP-%d-%d-%s", userID, at.Unix(), strings.ToUpper(hex.EncodeToString(random))), nil
}
